// Copyright 2026 The Stackvisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package stackvisor

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v2"
)

// ProcessDescriptor is the static configuration for one supervised
// process.  Descriptors are immutable once loaded; all ${NAME}
// references have already been resolved against the supervisor's own
// environment.
type ProcessDescriptor struct {
	Name        string
	Command     []string // argv, Command[0] is the executable
	Directory   string   // working directory, empty inherits ours
	Env         map[string]string
	User        string // run-as identity, empty inherits ours
	Autostart   bool
	Autorestart bool
	Critical    bool // a terminal failure takes the whole group down
	StopSignal  syscall.Signal
	StopGrace   time.Duration
	Stdout      LogDestination
	Stderr      LogDestination
}

// Environ returns the child's full environment: the supervisor's own
// environment with the descriptor overlay appended in sorted order, so
// overlay entries win.
func (d *ProcessDescriptor) Environ() []string {
	env := os.Environ()
	keys := make([]string, 0, len(d.Env))
	for k := range d.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+d.Env[k])
	}
	return env
}

// StartupStep is a one-shot action run before any process launches.
// Steps carry no state after completion and never run twice in one
// supervisor invocation.
type StartupStep struct {
	Name     string
	Command  []string
	Timeout  time.Duration
	Required bool // failure aborts the whole startup
}

// ControlConfig describes the optional control API listener.  An empty
// Listen address disables the API entirely.
type ControlConfig struct {
	Listen       string
	Username     string
	PasswordHash string // bcrypt hash of the basic-auth password
}

// Enabled reports whether a control listener should be bound.
func (c ControlConfig) Enabled() bool { return c.Listen != "" }

// Config is the process descriptor store: everything the supervisor
// was told at startup, validated and resolved, read-only afterwards.
type Config struct {
	Name      string
	Control   ControlConfig
	Steps     []StartupStep
	Processes []ProcessDescriptor
}

// Process returns the descriptor with the given name.
func (c *Config) Process(name string) (ProcessDescriptor, bool) {
	for _, d := range c.Processes {
		if d.Name == name {
			return d, true
		}
	}
	return ProcessDescriptor{}, false
}

// Autostart returns the descriptors flagged to launch at startup, in
// declaration order.
func (c *Config) Autostart() []ProcessDescriptor {
	rv := make([]ProcessDescriptor, 0, len(c.Processes))
	for _, d := range c.Processes {
		if d.Autostart {
			rv = append(rv, d)
		}
	}
	return rv
}

// Duration wraps time.Duration so configs can say "90s" or "5m".
// A bare number is taken as seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	// All scalars arrive as strings, so sniff for a bare number first.
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		*d = Duration(time.Duration(n * float64(time.Second)))
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

const (
	defaultStopGrace   = 10 * time.Second
	defaultStepTimeout = 60 * time.Second
)

type rawControl struct {
	Listen       string `yaml:"listen"`
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
}

type rawStep struct {
	Name     string   `yaml:"name"`
	Command  []string `yaml:"command"`
	Timeout  Duration `yaml:"timeout"`
	Required *bool    `yaml:"required"`
}

type rawProcess struct {
	Name        string            `yaml:"name"`
	Command     []string          `yaml:"command"`
	Directory   string            `yaml:"directory"`
	Env         map[string]string `yaml:"env"`
	User        string            `yaml:"user"`
	Autostart   *bool             `yaml:"autostart"`
	Autorestart bool              `yaml:"autorestart"`
	Critical    bool              `yaml:"critical"`
	StopSignal  string            `yaml:"stop_signal"`
	StopGrace   Duration          `yaml:"stop_grace"`
	Stdout      string            `yaml:"stdout"`
	Stderr      string            `yaml:"stderr"`
}

type rawConfig struct {
	Name      string       `yaml:"name"`
	Control   rawControl   `yaml:"control"`
	Startup   []rawStep    `yaml:"startup"`
	Processes []rawProcess `yaml:"processes"`
}

// LoadConfig reads, parses, and validates a configuration file.
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Reason: err.Error()}
	}
	return ParseConfig(b)
}

// ParseConfig parses and validates a YAML configuration document.
// ${NAME} references are resolved against the supervisor's own
// environment; a reference to an unset variable is a load failure.
func ParseConfig(b []byte) (*Config, error) {
	return parseConfig(b, os.LookupEnv)
}

func parseConfig(b []byte, lookup func(string) (string, bool)) (*Config, error) {
	var raw rawConfig
	if err := yaml.UnmarshalStrict(b, &raw); err != nil {
		return nil, &ConfigError{Reason: err.Error()}
	}

	cfg := &Config{
		Name: raw.Name,
		Control: ControlConfig{
			Listen:       raw.Control.Listen,
			Username:     raw.Control.Username,
			PasswordHash: raw.Control.PasswordHash,
		},
	}
	if cfg.Name == "" {
		cfg.Name = "stackvisor"
	}
	if cfg.Control.Listen != "" {
		if _, _, err := net.SplitHostPort(cfg.Control.Listen); err != nil {
			return nil, &ConfigError{Field: "control.listen", Reason: err.Error()}
		}
	}
	if cfg.Control.PasswordHash != "" && cfg.Control.Username == "" {
		return nil, &ConfigError{Field: "control.username", Reason: "required when password_hash is set"}
	}

	seen := make(map[string]bool)
	for i, rs := range raw.Startup {
		field := fmt.Sprintf("startup[%d]", i)
		if rs.Name != "" {
			field = "startup " + rs.Name
		}
		if err := checkName(rs.Name); err != nil {
			return nil, &ConfigError{Field: field, Reason: err.Error()}
		}
		if seen["step/"+rs.Name] {
			return nil, &ConfigError{Field: field, Reason: "duplicate name"}
		}
		seen["step/"+rs.Name] = true

		cmd, err := expandAll(rs.Command, lookup)
		if err != nil {
			return nil, &ConfigError{Field: field, Reason: err.Error()}
		}
		if len(cmd) == 0 || cmd[0] == "" {
			return nil, &ConfigError{Field: field, Reason: "command is empty"}
		}
		timeout := time.Duration(rs.Timeout)
		if timeout == 0 {
			timeout = defaultStepTimeout
		}
		if timeout < 0 {
			return nil, &ConfigError{Field: field, Reason: "timeout must be positive"}
		}
		required := true
		if rs.Required != nil {
			required = *rs.Required
		}
		cfg.Steps = append(cfg.Steps, StartupStep{
			Name:     rs.Name,
			Command:  cmd,
			Timeout:  timeout,
			Required: required,
		})
	}

	for i, rp := range raw.Processes {
		field := fmt.Sprintf("processes[%d]", i)
		if rp.Name != "" {
			field = "process " + rp.Name
		}
		if err := checkName(rp.Name); err != nil {
			return nil, &ConfigError{Field: field, Reason: err.Error()}
		}
		if seen["proc/"+rp.Name] {
			return nil, &ConfigError{Field: field, Reason: "duplicate name"}
		}
		seen["proc/"+rp.Name] = true

		cmd, err := expandAll(rp.Command, lookup)
		if err != nil {
			return nil, &ConfigError{Field: field, Reason: err.Error()}
		}
		if len(cmd) == 0 || cmd[0] == "" {
			return nil, &ConfigError{Field: field, Reason: "command is empty"}
		}
		dir, err := expand(rp.Directory, lookup)
		if err != nil {
			return nil, &ConfigError{Field: field, Reason: err.Error()}
		}
		env := make(map[string]string, len(rp.Env))
		for k, v := range rp.Env {
			ev, err := expand(v, lookup)
			if err != nil {
				return nil, &ConfigError{Field: field + " env " + k, Reason: err.Error()}
			}
			env[k] = ev
		}
		sig, err := signalByName(rp.StopSignal)
		if err != nil {
			return nil, &ConfigError{Field: field, Reason: err.Error()}
		}
		grace := time.Duration(rp.StopGrace)
		if grace == 0 {
			grace = defaultStopGrace
		}
		if grace < 0 {
			return nil, &ConfigError{Field: field, Reason: "stop_grace must be positive"}
		}
		stdout, err := parseDestination(rp.Stdout)
		if err != nil {
			return nil, &ConfigError{Field: field + " stdout", Reason: err.Error()}
		}
		stderr, err := parseDestination(rp.Stderr)
		if err != nil {
			return nil, &ConfigError{Field: field + " stderr", Reason: err.Error()}
		}
		autostart := true
		if rp.Autostart != nil {
			autostart = *rp.Autostart
		}
		cfg.Processes = append(cfg.Processes, ProcessDescriptor{
			Name:        rp.Name,
			Command:     cmd,
			Directory:   dir,
			Env:         env,
			User:        rp.User,
			Autostart:   autostart,
			Autorestart: rp.Autorestart,
			Critical:    rp.Critical,
			StopSignal:  sig,
			StopGrace:   grace,
			Stdout:      stdout,
			Stderr:      stderr,
		})
	}

	return cfg, nil
}

func checkName(name string) error {
	if name == "" {
		return fmt.Errorf("name is required")
	}
	if strings.ContainsAny(name, " \t/") {
		return fmt.Errorf("name %q may not contain spaces or slashes", name)
	}
	return nil
}

// expand resolves $NAME and ${NAME} against lookup.  "$$" escapes a
// literal dollar sign.  References to unset variables are errors, not
// silently empty; startup deserves to fail loudly when the environment
// is incomplete.
func expand(s string, lookup func(string) (string, bool)) (string, error) {
	var missing []string
	out := os.Expand(s, func(k string) string {
		if k == "$" {
			return "$"
		}
		if v, ok := lookup(k); ok {
			return v
		}
		missing = append(missing, k)
		return ""
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("reference to unset variable $%s", strings.Join(missing, ", $"))
	}
	return out, nil
}

func expandAll(in []string, lookup func(string) (string, bool)) ([]string, error) {
	out := make([]string, 0, len(in))
	for _, s := range in {
		v, err := expand(s, lookup)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// signalByName resolves "TERM", "sigint", "SIGHUP" and the like.  The
// empty string means SIGTERM.
func signalByName(name string) (syscall.Signal, error) {
	if name == "" {
		return syscall.SIGTERM, nil
	}
	s := strings.ToUpper(strings.TrimSpace(name))
	if !strings.HasPrefix(s, "SIG") {
		s = "SIG" + s
	}
	if sig := unix.SignalNum(s); sig != 0 {
		return sig, nil
	}
	return 0, fmt.Errorf("unknown signal %q", name)
}

func parseDestination(s string) (LogDestination, error) {
	switch s {
	case "", "inherit":
		return DestInherit, nil
	case "stdout":
		return DestStdout, nil
	case "stderr":
		return DestStderr, nil
	case "discard":
		return DestDiscard, nil
	}
	if !filepath.IsAbs(s) {
		return "", fmt.Errorf("log destination %q is neither a keyword nor an absolute path", s)
	}
	return LogDestination(s), nil
}

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
	"errors"
	"fmt"
)

var (
	ErrUnknownProcess = errors.New("no such process")
	ErrAlreadyRunning = errors.New("process already running")
	ErrNotRunning     = errors.New("process not running")
	ErrShuttingDown   = errors.New("supervisor shutting down")
	ErrStopTimeout    = errors.New("graceful stop timed out")
)

// ConfigError reports a configuration that cannot be loaded.  The
// supervisor never launches anything after one of these.
type ConfigError struct {
	Field  string // offending key or process name, may be empty
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "config: " + e.Reason
	}
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}

// StartupError reports a required startup step that failed or was
// canceled, aborting the whole launch.
type StartupError struct {
	Step string
	Err  error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("startup step %q: %v", e.Step, e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }

// SpawnError reports that the operating system could not create a
// child process, including a rejected run-as identity.
type SpawnError struct {
	Name string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Name, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// FatalError reports that a critical process reached a terminal failed
// state, taking the whole group down with it.
type FatalError struct {
	Name string
	Code int // the child's exit code, -1 if it never ran
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("critical process %s failed with exit code %d", e.Name, e.Code)
}

// ExitCode maps the error returned by Supervisor.Run onto the process
// exit code contract: 0 for a clean shutdown, the failed child's own
// code for a fatal process failure, 1 for everything else.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var fe *FatalError
	if errors.As(err, &fe) && fe.Code > 0 {
		return fe.Code
	}
	return 1
}

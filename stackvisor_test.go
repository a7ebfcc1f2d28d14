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
	"io"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

type testLog struct {
	t *testing.T
}

func (tl *testLog) Write(p []byte) (n int, err error) {
	s := string(p)
	s = strings.Trim(s, "\n")
	tl.t.Log(s)
	return len(p), nil
}

// fakeHandle is one pretend child.  It never touches the operating
// system; tests force its exit directly or via signals.
type fakeHandle struct {
	pid    int
	obey   bool // exit cleanly when signaled
	stdout io.Writer
	stderr io.Writer

	mx     sync.Mutex
	alive  bool
	sigs   []syscall.Signal
	killed bool

	exitc chan int
	once  sync.Once
}

func newFakeHandle(pid int, obey bool, stdout, stderr io.Writer) *fakeHandle {
	return &fakeHandle{
		pid:    pid,
		obey:   obey,
		stdout: stdout,
		stderr: stderr,
		alive:  true,
		exitc:  make(chan int, 1),
	}
}

func (h *fakeHandle) Pid() int {
	return h.pid
}

func (h *fakeHandle) Signal(sig syscall.Signal) error {
	h.mx.Lock()
	h.sigs = append(h.sigs, sig)
	obey := h.obey
	h.mx.Unlock()
	if obey {
		h.exit(0)
	}
	return nil
}

func (h *fakeHandle) Kill() error {
	h.mx.Lock()
	h.killed = true
	h.mx.Unlock()
	h.exit(137)
	return nil
}

func (h *fakeHandle) Wait() int {
	code := <-h.exitc
	h.mx.Lock()
	h.alive = false
	h.mx.Unlock()
	return code
}

func (h *fakeHandle) Alive() bool {
	h.mx.Lock()
	defer h.mx.Unlock()
	return h.alive
}

// exit ends the pretend child; only the first call counts.
func (h *fakeHandle) exit(code int) {
	h.once.Do(func() { h.exitc <- code })
}

func (h *fakeHandle) sawSignal(sig syscall.Signal) bool {
	h.mx.Lock()
	defer h.mx.Unlock()
	for _, s := range h.sigs {
		if s == sig {
			return true
		}
	}
	return false
}

func (h *fakeHandle) wasKilled() bool {
	h.mx.Lock()
	defer h.mx.Unlock()
	return h.killed
}

// say writes a line as if the child printed it.
func (h *fakeHandle) say(line string) {
	fmt.Fprintln(h.stdout, line)
}

func (h *fakeHandle) complain(line string) {
	fmt.Fprintln(h.stderr, line)
}

// fakeLauncher hands out fakeHandles and remembers every spawn in
// order, so tests can assert on sequencing and restart counts.
type fakeLauncher struct {
	mx       sync.Mutex
	nextPid  int
	order    []string
	procs    map[string][]*fakeHandle
	fail     map[string]error
	stubborn map[string]bool // ignore stop signals
	auto     map[string]int  // exit immediately with this code
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{
		nextPid:  1000,
		procs:    make(map[string][]*fakeHandle),
		fail:     make(map[string]error),
		stubborn: make(map[string]bool),
		auto:     make(map[string]int),
	}
}

func (l *fakeLauncher) Spawn(d *ProcessDescriptor, stdout, stderr io.Writer) (Handle, error) {
	l.mx.Lock()
	defer l.mx.Unlock()
	if err := l.fail[d.Name]; err != nil {
		return nil, &SpawnError{Name: d.Name, Err: err}
	}
	l.nextPid++
	h := newFakeHandle(l.nextPid, !l.stubborn[d.Name], stdout, stderr)
	l.order = append(l.order, d.Name)
	l.procs[d.Name] = append(l.procs[d.Name], h)
	if code, auto := l.auto[d.Name]; auto {
		go h.exit(code)
	}
	return h, nil
}

// last returns the newest handle spawned for name.
func (l *fakeLauncher) last(name string) *fakeHandle {
	l.mx.Lock()
	defer l.mx.Unlock()
	hs := l.procs[name]
	if len(hs) == 0 {
		return nil
	}
	return hs[len(hs)-1]
}

func (l *fakeLauncher) count(name string) int {
	l.mx.Lock()
	defer l.mx.Unlock()
	return len(l.procs[name])
}

func (l *fakeLauncher) spawnOrder() []string {
	l.mx.Lock()
	defer l.mx.Unlock()
	return append([]string{}, l.order...)
}

func (l *fakeLauncher) failSpawn(name string, err error) {
	l.mx.Lock()
	l.fail[name] = err
	l.mx.Unlock()
}

func (l *fakeLauncher) allowSpawn(name string) {
	l.mx.Lock()
	delete(l.fail, name)
	l.mx.Unlock()
}

func (l *fakeLauncher) ignoreStop(name string) {
	l.mx.Lock()
	l.stubborn[name] = true
	l.mx.Unlock()
}

func (l *fakeLauncher) exitImmediately(name string, code int) {
	l.mx.Lock()
	l.auto[name] = code
	l.mx.Unlock()
}

// WithSupervisor parses a config, swaps in a fake launcher, and hands
// both to the test body.
func WithSupervisor(t *testing.T, conf string, fn func(s *Supervisor, l *fakeLauncher)) func() {
	return func() {
		cfg, err := ParseConfig([]byte(conf))
		So(err, ShouldBeNil)
		s := New(cfg)
		So(s, ShouldNotBeNil)
		l := newFakeLauncher()
		s.SetLauncher(l)
		s.SetStreams(io.Discard, io.Discard)
		s.SetLogWriter(&testLog{t: t})
		Reset(func() {
			s.shutdownAll()
		})
		fn(s, l)
	}
}

// eventually polls for a condition with a deadline, keeping the tests
// free of magic sleeps.
func eventually(cond func() bool) bool {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func statusOf(s *Supervisor, name string) Status {
	ps, err := s.Process(name)
	if err != nil {
		return Status(-1)
	}
	return ps.Status
}

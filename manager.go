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
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

const (
	restartBackoffMin = 200 * time.Millisecond
	restartBackoffMax = 30 * time.Second

	// A child that survives this long earns a fresh backoff.
	stableRunTime = 60 * time.Second
)

// managedProcess owns the lifecycle of one descriptor: spawning,
// watching for exits, crash restarts with backoff, and stopping.
//
// The state machine is small.  Pending or a terminal state moves to
// Starting on a start request; Starting becomes Running once the child
// is confirmed alive; Running becomes Stopping on a stop request and
// Exited when the child is gone.  An unexpected death either schedules
// a respawn (back to Starting) or lands in Exited; a spawn the
// operating system rejects is retried under the same backoff if the
// descriptor autorestarts, and lands in Fatal otherwise.
type managedProcess struct {
	d        ProcessDescriptor
	launcher Launcher
	router   *Router
	logger   *log.Logger
	ring     *Log
	notify   func()
	onFatal  func(name string, code int)

	mx           sync.Mutex
	status       Status
	handle       Handle
	startID      string
	startedAt    time.Time
	restarts     int
	exitCode     int
	backoff      time.Duration
	stopReq      bool
	shutdown     bool
	restartTimer *time.Timer
	done         chan struct{}
}

func newManagedProcess(d ProcessDescriptor, l Launcher, r *Router, logger *log.Logger) *managedProcess {
	return &managedProcess{
		d:        d,
		launcher: l,
		router:   r,
		logger:   logger,
		ring:     NewLog(),
		status:   Pending,
		exitCode: -1,
		backoff:  restartBackoffMin,
	}
}

// Ring returns the retained output and lifecycle records.
func (m *managedProcess) Ring() *Log {
	return m.ring
}

// Snapshot returns a point-in-time copy of the process state.
func (m *managedProcess) Snapshot() ProcessState {
	m.mx.Lock()
	defer m.mx.Unlock()
	ps := ProcessState{
		Name:      m.d.Name,
		Status:    m.status,
		StartID:   m.startID,
		StartedAt: m.startedAt,
		Restarts:  m.restarts,
		ExitCode:  m.exitCode,
	}
	if m.handle != nil {
		ps.PID = m.handle.Pid()
	}
	return ps
}

// Start launches the child.  It resets the crash counters, so an
// operator start always begins with a clean slate.
func (m *managedProcess) Start() error {
	m.mx.Lock()
	if m.shutdown {
		m.mx.Unlock()
		return ErrShuttingDown
	}
	switch m.status {
	case Starting, Running, Stopping:
		m.mx.Unlock()
		return ErrAlreadyRunning
	}
	m.stopReq = false
	m.restarts = 0
	m.backoff = restartBackoffMin
	err := m.spawnLocked()
	if err != nil {
		m.exitCode = -1
		if m.d.Autorestart {
			delay := m.scheduleRespawnLocked()
			m.logf("start failed: %v, retry %d in %v", err, m.restarts, delay)
			m.mx.Unlock()
			m.bump()
			return err
		}
		m.status = Fatal
		m.logf("start failed: %v", err)
		critical := m.d.Critical
		m.mx.Unlock()
		m.bump()
		if critical && m.onFatal != nil {
			m.onFatal(m.d.Name, -1)
		}
		return err
	}
	m.mx.Unlock()
	m.bump()
	return nil
}

// scheduleRespawnLocked books the next spawn attempt under the current
// backoff and doubles it for the one after.  Callers hold m.mx.
func (m *managedProcess) scheduleRespawnLocked() time.Duration {
	m.restarts++
	delay := m.backoff
	m.backoff *= 2
	if m.backoff > restartBackoffMax {
		m.backoff = restartBackoffMax
	}
	m.status = Starting
	m.restartTimer = time.AfterFunc(delay, m.respawn)
	return delay
}

// spawnLocked creates a new incarnation.  Callers hold m.mx.
func (m *managedProcess) spawnLocked() error {
	stdout, stderr, err := m.router.Streams(&m.d, m.ring)
	if err != nil {
		return &SpawnError{Name: m.d.Name, Err: err}
	}
	h, err := m.launcher.Spawn(&m.d, stdout, stderr)
	if err != nil {
		return err
	}
	id := uuid.NewString()
	done := make(chan struct{})
	m.startID = id
	m.handle = h
	m.startedAt = time.Now()
	m.done = done
	if h.Alive() {
		m.status = Running
	} else {
		// Not confirmed yet; the waiter will tell us what happened.
		m.status = Starting
	}
	m.logf("started pid %d (start id %s)", h.Pid(), id)
	go m.waiter(id, h, stdout, stderr, done)
	return nil
}

func (m *managedProcess) waiter(id string, h Handle, stdout, stderr io.Writer, done chan struct{}) {
	code := h.Wait()
	flushStreams(stdout, stderr)
	m.onExit(id, code)
	close(done)
}

func (m *managedProcess) onExit(id string, code int) {
	m.mx.Lock()
	if m.startID != id {
		// A stale waiter from a previous incarnation.
		m.mx.Unlock()
		return
	}
	m.exitCode = code
	m.handle = nil
	uptime := time.Since(m.startedAt)

	fatal := false
	switch {
	case m.stopReq || m.status == Stopping:
		m.status = Exited
		m.logf("exited with code %d (stopped)", code)
	case m.d.Autorestart && !m.shutdown:
		if uptime >= stableRunTime {
			m.backoff = restartBackoffMin
		}
		delay := m.scheduleRespawnLocked()
		m.logf("exited with code %d after %v, restart %d in %v",
			code, uptime.Round(time.Millisecond), m.restarts, delay)
	default:
		m.status = Exited
		m.logf("exited with code %d after %v", code, uptime.Round(time.Millisecond))
		fatal = m.d.Critical && !m.shutdown
	}
	name := m.d.Name
	m.mx.Unlock()
	m.bump()
	if fatal && m.onFatal != nil {
		m.onFatal(name, code)
	}
}

// respawn fires when the backoff delay expires.
func (m *managedProcess) respawn() {
	m.mx.Lock()
	m.restartTimer = nil
	if m.stopReq || m.shutdown || m.status != Starting {
		m.mx.Unlock()
		return
	}
	err := m.spawnLocked()
	if err != nil {
		// A rejected spawn retries like a crash.
		delay := m.scheduleRespawnLocked()
		m.logf("respawn failed: %v, retry %d in %v", err, m.restarts, delay)
	}
	m.mx.Unlock()
	m.bump()
}

// Stop takes the child down: the configured stop signal first, then a
// kill once the grace period runs out.  It returns ErrStopTimeout when
// the kill was needed, and joins an already in-flight stop rather than
// doubling up.  Stopping a process that is waiting out a restart delay
// just cancels the restart; one already in a terminal state is left
// alone.
func (m *managedProcess) Stop(ctx context.Context) error {
	m.mx.Lock()
	if m.status == Stopping {
		done := m.done
		m.mx.Unlock()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if m.restartTimer != nil {
		m.restartTimer.Stop()
		m.restartTimer = nil
		m.stopReq = true
		m.status = Exited
		m.logf("stop canceled pending restart")
		m.mx.Unlock()
		m.bump()
		return nil
	}
	if m.status.Terminal() {
		// Already down; a repeated stop is a no-op.
		m.mx.Unlock()
		return nil
	}
	if m.handle == nil {
		m.mx.Unlock()
		return ErrNotRunning
	}
	m.stopReq = true
	m.status = Stopping
	h := m.handle
	done := m.done
	sig := m.d.StopSignal
	grace := m.d.StopGrace
	m.logf("stopping with %s, grace %v", unix.SignalName(sig), grace)
	m.mx.Unlock()
	m.bump()

	if err := h.Signal(sig); err != nil {
		// Likely already gone; the waiter will catch up.
		m.logf("stop signal: %v", err)
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		h.Kill()
		<-done
		return ctx.Err()
	case <-timer.C:
		m.logf("graceful stop timed out, killing")
		h.Kill()
	}
	select {
	case <-done:
		return ErrStopTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Restart stops the child if needed and starts a fresh incarnation.
func (m *managedProcess) Restart(ctx context.Context) error {
	err := m.Stop(ctx)
	if err != nil && !errors.Is(err, ErrNotRunning) && !errors.Is(err, ErrStopTimeout) {
		return err
	}
	return m.Start()
}

// markShutdown stops future restarts; the supervisor is going down.
func (m *managedProcess) markShutdown() {
	m.mx.Lock()
	m.shutdown = true
	if m.restartTimer != nil {
		m.restartTimer.Stop()
		m.restartTimer = nil
		if m.status == Starting && m.handle == nil {
			m.status = Exited
		}
	}
	m.mx.Unlock()
}

func (m *managedProcess) bump() {
	if m.notify != nil {
		m.notify()
	}
}

func (m *managedProcess) logf(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	m.ring.Append(StreamEvent, msg)
	if m.logger != nil {
		m.logger.Print(msg)
	}
}

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
	"time"
)

// Status is the lifecycle state of one managed process.
type Status int

const (
	// Pending means the process has never been started.
	Pending Status = iota

	// Starting means a spawn is in progress or a restart is pending.
	Starting

	// Running means the child process is confirmed alive.
	Running

	// Stopping means a graceful stop has been requested and the
	// manager is waiting for the child to exit.
	Stopping

	// Exited means the child is gone and no restart is pending.
	Exited

	// Fatal means the child could not be spawned and policy allows
	// no further attempts.
	Fatal
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Exited:
		return "exited"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state can only be left by an external
// start command.
func (s Status) Terminal() bool {
	return s == Exited || s == Fatal
}

// ProcessState is a point-in-time snapshot of one managed process.
// Snapshots are value copies; holding one never blocks the manager.
type ProcessState struct {
	Name      string
	Status    Status
	PID       int    // 0 unless a child is alive
	StartID   string // unique id of the current or last incarnation
	StartedAt time.Time
	Restarts  int // completed crash-restart cycles
	ExitCode  int // last observed exit code, -1 before the first exit
}

// Uptime returns how long the current incarnation has been alive, or
// zero when the process is not running.
func (ps ProcessState) Uptime() time.Duration {
	if ps.Status != Running && ps.Status != Stopping {
		return 0
	}
	return time.Since(ps.StartedAt)
}

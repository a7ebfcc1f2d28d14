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
	"io"
	"syscall"
)

// Launcher creates the operating system processes behind the
// supervisor.  It exists so the lifecycle machinery can be exercised
// without forking real children.  Applications normally use
// NewOSLauncher and never implement this themselves.
type Launcher interface {
	// Spawn creates the child described by d with its stdout and
	// stderr connected to the supplied writers.  It returns as soon
	// as the child exists; it never waits for it to finish.
	Spawn(d *ProcessDescriptor, stdout, stderr io.Writer) (Handle, error)
}

// Handle is one spawned child.  The supervisor calls Wait exactly once
// per handle; the other methods may be called concurrently with it.
type Handle interface {
	// Pid returns the operating system process id.
	Pid() int

	// Signal delivers sig to the child and everything it spawned.
	Signal(sig syscall.Signal) error

	// Kill forcibly terminates the child and everything it spawned.
	Kill() error

	// Wait blocks until the child exits and returns its exit code.
	// Death by signal is reported as 128 plus the signal number.
	Wait() int

	// Alive reports whether the child still exists.
	Alive() bool
}

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

// Package stackvisor supervises the processes of a single container.
//
// A Supervisor is built from a declarative configuration that names an
// ordered list of one-shot startup steps (dependency waits, migrations)
// and an ordered list of long-running processes (the application server
// and its sidecars).  It runs the startup sequence to completion, then
// launches and babysits the processes: captured output is forwarded to
// the supervisor's own streams or to files, crashed processes are
// restarted under a bounded backoff, and a termination signal tears the
// whole group down within each process's grace period.
//
// The supervisor runs in the foreground and its exit code is the
// container's exit code: zero after a clean shutdown, the failed
// process's code when a critical process dies for good, and one when
// configuration or the startup sequence fails before anything launched.
//
// Unlike system-level init replacements, stackvisor is deliberately
// scoped to one container: it does not daemonize, does not talk to any
// cluster manager, and treats the programs it runs as opaque.  An
// optional loopback control API exposes status, logs, and start/stop
// actions for the stackvisor client command.
package stackvisor

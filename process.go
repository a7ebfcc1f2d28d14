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
	"os/exec"
	"os/user"
	"strconv"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"
)

// osLauncher is the production Launcher, backed by os/exec.  Every
// child gets its own process group so that signals reach helper
// processes the child forked itself.
type osLauncher struct{}

// NewOSLauncher returns the Launcher that forks real processes.
func NewOSLauncher() Launcher {
	return &osLauncher{}
}

func (l *osLauncher) Spawn(d *ProcessDescriptor, stdout, stderr io.Writer) (Handle, error) {
	cmd := exec.Command(d.Command[0], d.Command[1:]...)
	cmd.Dir = d.Directory
	cmd.Env = d.Environ()
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if d.User != "" {
		cred, err := lookupCredential(d.User)
		if err != nil {
			return nil, &SpawnError{Name: d.Name, Err: err}
		}
		cmd.SysProcAttr.Credential = cred
	}
	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Name: d.Name, Err: err}
	}
	return &osHandle{cmd: cmd}, nil
}

// lookupCredential resolves a user name, or a numeric uid, into the
// credential the child runs under.
func lookupCredential(name string) (*syscall.Credential, error) {
	u, err := user.Lookup(name)
	if err != nil {
		if _, nerr := strconv.Atoi(name); nerr == nil {
			u, err = user.LookupId(name)
		}
		if err != nil {
			return nil, err
		}
	}
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("bad uid %q for user %s", u.Uid, name)
	}
	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("bad gid %q for user %s", u.Gid, name)
	}
	return &syscall.Credential{Uid: uint32(uid), Gid: uint32(gid)}, nil
}

type osHandle struct {
	cmd *exec.Cmd
}

func (h *osHandle) Pid() int {
	return h.cmd.Process.Pid
}

func (h *osHandle) Signal(sig syscall.Signal) error {
	// Negative pid addresses the whole process group.
	return unix.Kill(-h.cmd.Process.Pid, sig)
}

func (h *osHandle) Kill() error {
	return unix.Kill(-h.cmd.Process.Pid, unix.SIGKILL)
}

func (h *osHandle) Wait() int {
	h.cmd.Wait()
	if ps := h.cmd.ProcessState; ps != nil {
		if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return 128 + int(ws.Signal())
		}
		return ps.ExitCode()
	}
	// Wait failed before any status was collected.
	return -1
}

func (h *osHandle) Alive() bool {
	ok, err := process.PidExists(int32(h.cmd.Process.Pid))
	return err == nil && ok
}

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

//go:build unix

// These tests fork real children through /bin/sh, so they only run
// on POSIX systems.  The launcher itself has no other port.

package stackvisor

import (
	"bytes"
	"errors"
	"path/filepath"
	"syscall"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func sh(script string) []string {
	return []string{"/bin/sh", "-c", script}
}

func TestOSLauncher(t *testing.T) {
	Convey("Given the real launcher", t, func() {
		l := NewOSLauncher()
		outBuf := &bytes.Buffer{}
		errBuf := &bytes.Buffer{}
		r := NewRouter(outBuf, errBuf)
		ring := NewLog()

		spawn := func(d *ProcessDescriptor) Handle {
			stdout, stderr, err := r.Streams(d, ring)
			So(err, ShouldBeNil)
			h, err := l.Spawn(d, stdout, stderr)
			So(err, ShouldBeNil)
			So(h.Pid(), ShouldBeGreaterThan, 0)
			return h
		}

		Convey("A clean exit reports code zero", func() {
			h := spawn(&ProcessDescriptor{Name: "ok", Command: sh("exit 0")})
			So(h.Wait(), ShouldEqual, 0)
		})

		Convey("A failing exit code is passed through", func() {
			h := spawn(&ProcessDescriptor{Name: "bad", Command: sh("exit 3")})
			So(h.Wait(), ShouldEqual, 3)
		})

		Convey("Output is copied and retained per stream", func() {
			h := spawn(&ProcessDescriptor{
				Name:    "talk",
				Command: sh("echo hello; echo world 1>&2"),
			})
			So(h.Wait(), ShouldEqual, 0)

			So(outBuf.String(), ShouldEqual, "hello\n")
			So(errBuf.String(), ShouldEqual, "world\n")
			So(ringTexts(ring), ShouldContain, "stdout:hello")
			So(ringTexts(ring), ShouldContain, "stderr:world")
		})

		Convey("The environment overlay reaches the child", func() {
			h := spawn(&ProcessDescriptor{
				Name:    "env",
				Command: sh("echo $STACKVISOR_GREETING"),
				Env:     map[string]string{"STACKVISOR_GREETING": "bonjour"},
			})
			So(h.Wait(), ShouldEqual, 0)
			So(outBuf.String(), ShouldEqual, "bonjour\n")
		})

		Convey("The working directory is honored", func() {
			dir := t.TempDir()
			h := spawn(&ProcessDescriptor{
				Name:      "pwd",
				Command:   sh("pwd"),
				Directory: dir,
			})
			So(h.Wait(), ShouldEqual, 0)

			want, err := filepath.EvalSymlinks(dir)
			So(err, ShouldBeNil)
			got, err := filepath.EvalSymlinks(
				string(bytes.TrimRight(outBuf.Bytes(), "\n")))
			So(err, ShouldBeNil)
			So(got, ShouldEqual, want)
		})

		Convey("A signaled child reports 128 plus the signal", func() {
			h := spawn(&ProcessDescriptor{Name: "sleepy", Command: sh("sleep 30")})
			So(h.Alive(), ShouldBeTrue)
			So(h.Signal(syscall.SIGTERM), ShouldBeNil)
			So(h.Wait(), ShouldEqual, 128+int(syscall.SIGTERM))
			So(h.Alive(), ShouldBeFalse)
		})

		Convey("Kill terminates the whole process group", func() {
			h := spawn(&ProcessDescriptor{
				Name:    "family",
				Command: sh("sleep 30 & wait"),
			})
			So(h.Kill(), ShouldBeNil)
			So(h.Wait(), ShouldEqual, 128+int(syscall.SIGKILL))
		})

		Convey("A missing executable fails the spawn", func() {
			stdout, stderr, err := r.Streams(&ProcessDescriptor{Name: "ghost"}, ring)
			So(err, ShouldBeNil)
			_, err = l.Spawn(&ProcessDescriptor{
				Name:    "ghost",
				Command: []string{"/no/such/binary"},
			}, stdout, stderr)
			So(err, ShouldNotBeNil)
			spe := &SpawnError{}
			So(errors.As(err, &spe), ShouldBeTrue)
		})

		Convey("An unknown run-as user fails the spawn", func() {
			stdout, stderr, err := r.Streams(&ProcessDescriptor{Name: "whom"}, ring)
			So(err, ShouldBeNil)
			_, err = l.Spawn(&ProcessDescriptor{
				Name:    "whom",
				Command: sh("true"),
				User:    "stackvisor-no-such-user",
			}, stdout, stderr)
			spe := &SpawnError{}
			So(errors.As(err, &spe), ShouldBeTrue)
		})

		Convey("Numeric run-as identities resolve by uid", func() {
			cred, err := lookupCredential("0")
			So(err, ShouldBeNil)
			So(cred.Uid, ShouldEqual, 0)
		})
	})
}

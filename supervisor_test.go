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
	"syscall"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

var e2eConf = `
name: stack
startup:
  - name: prep
    command: ["prep"]
  - name: migrate
    command: ["migrate"]
processes:
  - name: web
    command: ["serve"]
    critical: true
    stop_grace: 100ms
  - name: worker
    command: ["work"]
    autorestart: true
    stop_grace: 100ms
  - name: sidecar
    command: ["side"]
    stop_grace: 100ms
  - name: cron
    command: ["cron"]
    autostart: false
`

var errRunStuck = errors.New("supervisor did not come down in time")

// recvErr collects the Run result without risking a hung test.
func recvErr(errc chan error) error {
	select {
	case err := <-errc:
		return err
	case <-time.After(5 * time.Second):
		return errRunStuck
	}
}

func TestSupervisorInfo(t *testing.T) {
	Convey("Given an idle supervisor", t, WithSupervisor(t, e2eConf,
		func(s *Supervisor, l *fakeLauncher) {
			Convey("GetInfo describes the configuration", func() {
				info := s.GetInfo()
				So(info.Name, ShouldEqual, "stack")
				So(info.State, ShouldEqual, "startup")
				So(info.Processes, ShouldEqual, 4)
				So(info.Serial, ShouldNotEqual, 0)
				So(s.Name(), ShouldEqual, "stack")
				So(s.Config(), ShouldNotBeNil)
			})

			Convey("Snapshots come back in declaration order", func() {
				var names []string
				for _, ps := range s.Processes() {
					names = append(names, ps.Name)
				}
				So(names, ShouldResemble, []string{"web", "worker", "sidecar", "cron"})
			})

			Convey("Descriptors are retrievable by name", func() {
				d, err := s.Descriptor("web")
				So(err, ShouldBeNil)
				So(d.Critical, ShouldBeTrue)
				_, err = s.Descriptor("nope")
				So(err, ShouldEqual, ErrUnknownProcess)
			})
		}))
}

func TestSupervisorRun(t *testing.T) {
	Convey("Given a supervisor with steps and processes", t, WithSupervisor(t, e2eConf,
		func(s *Supervisor, l *fakeLauncher) {
			l.exitImmediately("prep", 0)
			l.exitImmediately("migrate", 0)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			errc := make(chan error, 1)
			go func() { errc <- s.Run(ctx) }()

			up := func() bool {
				return statusOf(s, "web") == Running &&
					statusOf(s, "worker") == Running &&
					statusOf(s, "sidecar") == Running
			}

			Convey("Everything comes up in declaration order, steps first", func() {
				So(eventually(up), ShouldBeTrue)
				So(l.spawnOrder(), ShouldResemble,
					[]string{"prep", "migrate", "web", "worker", "sidecar"})
				So(l.count("cron"), ShouldEqual, 0)
				So(eventually(func() bool {
					return s.GetInfo().State == "running"
				}), ShouldBeTrue)

				Convey("Cancellation stops every process and returns clean", func() {
					cancel()
					So(recvErr(errc), ShouldBeNil)
					So(l.last("web").sawSignal(syscall.SIGTERM), ShouldBeTrue)
					So(l.last("worker").sawSignal(syscall.SIGTERM), ShouldBeTrue)
					So(l.last("sidecar").sawSignal(syscall.SIGTERM), ShouldBeTrue)
					So(statusOf(s, "web"), ShouldEqual, Exited)
					So(statusOf(s, "cron"), ShouldEqual, Pending)
					So(s.GetInfo().State, ShouldEqual, "stopping")

					Convey("And later lifecycle commands are refused", func() {
						So(s.StartProcess("cron"), ShouldEqual, ErrShuttingDown)
						So(s.RestartProcess(context.Background(), "web"),
							ShouldEqual, ErrShuttingDown)
					})
				})

				Convey("A critical death takes the whole group down", func() {
					l.last("web").exit(3)
					err := recvErr(errc)
					fe := &FatalError{}
					So(errors.As(err, &fe), ShouldBeTrue)
					So(fe.Name, ShouldEqual, "web")
					So(fe.Code, ShouldEqual, 3)
					So(ExitCode(err), ShouldEqual, 3)
					So(s.FatalCount(), ShouldEqual, 1)
					So(l.last("worker").sawSignal(syscall.SIGTERM), ShouldBeTrue)
					So(l.last("sidecar").sawSignal(syscall.SIGTERM), ShouldBeTrue)
				})

				Convey("A critical process finishing cleanly is a clean shutdown", func() {
					l.last("web").exit(0)
					So(recvErr(errc), ShouldBeNil)
					So(ExitCode(nil), ShouldEqual, 0)
					So(l.last("worker").sawSignal(syscall.SIGTERM), ShouldBeTrue)
				})

				Convey("A non-critical death leaves the group running", func() {
					l.last("sidecar").exit(5)
					So(eventually(func() bool { return statusOf(s, "sidecar") == Exited }), ShouldBeTrue)
					time.Sleep(100 * time.Millisecond)
					So(len(errc), ShouldEqual, 0)
					So(statusOf(s, "web"), ShouldEqual, Running)
					// Still down, and still only one incarnation.
					So(statusOf(s, "sidecar"), ShouldEqual, Exited)
					So(l.count("sidecar"), ShouldEqual, 1)

					cancel()
					So(recvErr(errc), ShouldBeNil)
				})

				Convey("Watching the serial sees changes and expires quietly", func() {
					// Let the launch bumps land before sampling.
					time.Sleep(50 * time.Millisecond)
					old := s.Serial()
					So(s.WatchSerial(old, 50*time.Millisecond), ShouldEqual, old)

					go func() {
						time.Sleep(20 * time.Millisecond)
						s.StartProcess("cron")
					}()
					So(s.WatchSerial(old, 5*time.Second), ShouldNotEqual, old)

					cancel()
					So(recvErr(errc), ShouldBeNil)
				})
			})
		}))
}

func TestSupervisorStartupFailure(t *testing.T) {
	Convey("A required step failure aborts the launch", t, WithSupervisor(t, e2eConf,
		func(s *Supervisor, l *fakeLauncher) {
			l.exitImmediately("prep", 0)
			l.exitImmediately("migrate", 2)

			errc := make(chan error, 1)
			go func() { errc <- s.Run(context.Background()) }()

			err := recvErr(errc)
			se := &StartupError{}
			So(errors.As(err, &se), ShouldBeTrue)
			So(se.Step, ShouldEqual, "migrate")
			So(ExitCode(err), ShouldEqual, 1)
			So(l.count("web"), ShouldEqual, 0)
			So(l.count("worker"), ShouldEqual, 0)
		}))
}

func TestSupervisorStartupCancel(t *testing.T) {
	conf := `
name: stack
startup:
  - name: forever
    command: ["forever"]
processes:
  - name: web
    command: ["serve"]
    critical: true
    stop_grace: 100ms
`
	Convey("Cancellation during startup is a clean shutdown", t, WithSupervisor(t, conf,
		func(s *Supervisor, l *fakeLauncher) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			errc := make(chan error, 1)
			go func() { errc <- s.Run(ctx) }()

			So(eventually(func() bool { return l.last("forever") != nil }), ShouldBeTrue)
			cancel()

			So(recvErr(errc), ShouldBeNil)
			So(l.last("forever").wasKilled(), ShouldBeTrue)
			So(l.count("web"), ShouldEqual, 0)
		}))
}

func TestSupervisorCriticalLaunchFailure(t *testing.T) {
	Convey("A critical process that cannot spawn fails the launch", t, WithSupervisor(t, e2eConf,
		func(s *Supervisor, l *fakeLauncher) {
			l.exitImmediately("prep", 0)
			l.exitImmediately("migrate", 0)
			l.failSpawn("web", errors.New("permission denied"))

			errc := make(chan error, 1)
			go func() { errc <- s.Run(context.Background()) }()

			err := recvErr(errc)
			fe := &FatalError{}
			So(errors.As(err, &fe), ShouldBeTrue)
			So(fe.Name, ShouldEqual, "web")
			So(fe.Code, ShouldEqual, -1)
			So(ExitCode(err), ShouldEqual, 1)
			So(statusOf(s, "web"), ShouldEqual, Fatal)
			So(l.count("worker"), ShouldEqual, 0)
		}))
}

func TestSupervisorNonCriticalLaunchFailure(t *testing.T) {
	Convey("A non-critical spawn failure does not stop the launch", t, WithSupervisor(t, e2eConf,
		func(s *Supervisor, l *fakeLauncher) {
			l.exitImmediately("prep", 0)
			l.exitImmediately("migrate", 0)
			l.failSpawn("sidecar", errors.New("permission denied"))
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			errc := make(chan error, 1)
			go func() { errc <- s.Run(ctx) }()

			So(eventually(func() bool { return statusOf(s, "web") == Running }), ShouldBeTrue)
			So(eventually(func() bool { return statusOf(s, "worker") == Running }), ShouldBeTrue)
			So(statusOf(s, "sidecar"), ShouldEqual, Fatal)
			So(len(errc), ShouldEqual, 0)

			cancel()
			So(recvErr(errc), ShouldBeNil)
		}))
}

func TestSupervisorEventLog(t *testing.T) {
	Convey("Supervisor lifecycle events are retained", t, WithSupervisor(t, e2eConf,
		func(s *Supervisor, l *fakeLauncher) {
			l.exitImmediately("prep", 0)
			l.exitImmediately("migrate", 0)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			errc := make(chan error, 1)
			go func() { errc <- s.Run(ctx) }()
			So(eventually(func() bool { return statusOf(s, "web") == Running }), ShouldBeTrue)
			cancel()
			So(recvErr(errc), ShouldBeNil)

			recs, seq := s.GetLog(0)
			So(seq, ShouldNotEqual, 0)
			all := ""
			for _, r := range recs {
				all += r.Text + "\n"
			}
			So(all, ShouldContainSubstring, "*** stack starting ***")
			So(all, ShouldContainSubstring, "startup prep: running")
			So(all, ShouldContainSubstring, "supervising 4 processes")
			So(all, ShouldContainSubstring, "*** stack done ***")

			Convey("And the log watch honors its cursor", func() {
				again, seq2 := s.GetLog(seq)
				So(again, ShouldBeNil)
				So(seq2, ShouldEqual, seq)
				So(s.WatchLog(seq, 50*time.Millisecond), ShouldEqual, seq)
			})
		}))
}

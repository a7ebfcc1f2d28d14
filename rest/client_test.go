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

package rest

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"golang.org/x/crypto/bcrypt"
)

func TestClient(t *testing.T) {
	Convey("Given a client against a served supervisor", t, func() {
		s := newTestSupervisor(t, &tLauncher{})
		srv := httptest.NewServer(NewHandler(s))
		Reset(srv.Close)
		c := NewClient(nil, srv.URL)

		Convey("GetInfo fetches the supervisor snapshot", func() {
			info, err := c.GetInfo()
			So(err, ShouldBeNil)
			So(info.Name, ShouldEqual, "resttest")
			So(info.Processes, ShouldEqual, 2)

			Convey("WatchInfo returns early when the cache has moved on", func() {
				So(s.StartProcess("web"), ShouldBeNil)
				fresh, err := c.GetInfo()
				So(err, ShouldBeNil)
				So(fresh.Serial, ShouldBeGreaterThan, info.Serial)

				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				start := time.Now()
				got, err := c.WatchInfo(ctx, info)
				So(err, ShouldBeNil)
				So(got.Serial, ShouldEqual, fresh.Serial)
				So(time.Since(start), ShouldBeLessThan, time.Second)
			})

			Convey("WatchInfo blocks until something changes", func() {
				go func() {
					time.Sleep(50 * time.Millisecond)
					s.StartProcess("worker")
				}()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				got, err := c.WatchInfo(ctx, info)
				So(err, ShouldBeNil)
				So(got.Serial, ShouldBeGreaterThan, info.Serial)
			})
		})

		Convey("Processes lists the names", func() {
			names, err := c.Processes()
			So(err, ShouldBeNil)
			So(names, ShouldResemble, []string{"web", "worker"})
		})

		Convey("GetProcess follows lifecycle changes", func() {
			p, err := c.GetProcess("web")
			So(err, ShouldBeNil)
			So(p.Status, ShouldEqual, "pending")

			So(c.StartProcess("web"), ShouldBeNil)
			p, err = c.GetProcess("web")
			So(err, ShouldBeNil)
			So(p.Status, ShouldEqual, "running")
			So(p.Pid, ShouldBeGreaterThan, 0)

			Convey("WatchProcess wakes on the stop", func() {
				go func() {
					time.Sleep(50 * time.Millisecond)
					c.StopProcess("web")
				}()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				got, err := c.WatchProcess(ctx, "web", p)
				So(err, ShouldBeNil)
				// The first wakeup may catch the transient stopping
				// state; keep following until it settles.
				for got.Status == "stopping" {
					got, err = c.WatchProcess(ctx, "web", got)
					So(err, ShouldBeNil)
				}
				So(got.Status, ShouldEqual, "exited")
			})
		})

		Convey("Action errors surface with their status codes", func() {
			var apiErr *Error

			err := c.StartProcess("nope")
			So(errors.As(err, &apiErr), ShouldBeTrue)
			So(apiErr.Code, ShouldEqual, 404)

			err = c.StopProcess("web")
			So(errors.As(err, &apiErr), ShouldBeTrue)
			So(apiErr.Code, ShouldEqual, 409)
		})

		Convey("Logs flow through, ring by ring", func() {
			So(c.StartProcess("web"), ShouldBeNil)

			li, err := c.GetLog("web")
			So(err, ShouldBeNil)
			So(len(li.Records), ShouldBeGreaterThan, 0)
			So(li.Records[0].Text, ShouldContainSubstring, "started pid")

			ev, err := c.GetLog("")
			So(err, ShouldBeNil)
			So(len(ev.Records), ShouldBeGreaterThan, 0)

			_, err = c.GetLog("nope")
			var apiErr *Error
			So(errors.As(err, &apiErr), ShouldBeTrue)
			So(apiErr.Code, ShouldEqual, 404)

			Convey("And WatchLog picks up fresh records", func() {
				go func() {
					time.Sleep(50 * time.Millisecond)
					c.RestartProcess("web")
				}()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				got, err := c.WatchLog(ctx, "web", li)
				So(err, ShouldBeNil)
				So(len(got.Records), ShouldBeGreaterThan, len(li.Records))
			})
		})

		Convey("Health reports ok", func() {
			So(c.Health(), ShouldBeNil)
		})
	})
}

func TestClientAuth(t *testing.T) {
	Convey("Given an auth-protected server", t, func() {
		s := newTestSupervisor(t, &tLauncher{})
		h := NewHandler(s)
		hash, err := bcrypt.GenerateFromPassword([]byte("swordfish"), bcrypt.MinCost)
		So(err, ShouldBeNil)
		h.SetAuth("ops", string(hash))
		srv := httptest.NewServer(h)
		Reset(srv.Close)

		Convey("An anonymous client is turned away", func() {
			c := NewClient(nil, srv.URL)
			_, err := c.GetInfo()
			var apiErr *Error
			So(errors.As(err, &apiErr), ShouldBeTrue)
			So(apiErr.Code, ShouldEqual, 401)

			Convey("But health stays reachable", func() {
				So(c.Health(), ShouldBeNil)
			})
		})

		Convey("Credentials open every route", func() {
			c := NewClient(nil, srv.URL)
			c.SetAuth("ops", "swordfish")
			info, err := c.GetInfo()
			So(err, ShouldBeNil)
			So(info.Name, ShouldEqual, "resttest")
			So(c.StartProcess("web"), ShouldBeNil)
		})
	})
}

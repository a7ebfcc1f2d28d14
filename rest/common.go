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

// Package rest is the control surface of a running supervisor: a JSON
// API over HTTP, plus the matching client.  Reads are cheap and
// cacheable; both the supervisor info and the logs support etag-based
// long polling so clients can wait for changes without spinning.
package rest

import (
	"time"
)

const (
	mimeJson = "application/json; charset=UTF-8"

	// PollEtagHeader asks a GET to block until the resource moves
	// past the given etag.  PollTimeHeader bounds the wait, in
	// seconds.
	PollEtagHeader = "X-Stackvisor-Etag"
	PollTimeHeader = "X-Stackvisor-Poll"

	// The server never holds a long poll open past this.
	maxPollSecs = 300
)

var ok struct{}

// SupervisorInfo mirrors the top-level supervisor snapshot.
type SupervisorInfo struct {
	Name       string    `json:"name"`
	Pid        int       `json:"pid"`
	State      string    `json:"state"`
	Serial     int64     `json:"serial,string"`
	CreateTime time.Time `json:"created"`
	UpdateTime time.Time `json:"updated"`
	Processes  int       `json:"processes"`

	etag string
}

// ProcessInfo is the full client-facing view of one process: its
// current state joined with the descriptor it was built from and, when
// running, a resource sample.
type ProcessInfo struct {
	Name        string    `json:"name"`
	Status      string    `json:"status"`
	Pid         int       `json:"pid,omitempty"`
	StartID     string    `json:"startId,omitempty"`
	StartedAt   time.Time `json:"startedAt"`
	Restarts    int       `json:"restarts"`
	ExitCode    int       `json:"exitCode"`
	Command     []string  `json:"command"`
	Critical    bool      `json:"critical"`
	Autostart   bool      `json:"autostart"`
	Autorestart bool      `json:"autorestart"`
	CPUPercent  float64   `json:"cpuPercent,omitempty"`
	RSSBytes    uint64    `json:"rssBytes,omitempty"`

	etag string
}

// LogRecord is one retained log line.
type LogRecord struct {
	Seq    int64     `json:"seq,string"`
	Time   time.Time `json:"time"`
	Stream string    `json:"stream"`
	Text   string    `json:"text"`
}

// LogInfo carries one fetched log along with its cache tag.
type LogInfo struct {
	name    string
	etag    string
	Records []LogRecord
}

// Health is the body of the healthz endpoint.
type Health struct {
	Status string `json:"status"`
}

// Error is the JSON error body, doubling as a Go error on the client
// side.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}

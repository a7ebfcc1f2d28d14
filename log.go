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
	"strings"
	"sync"
	"time"
)

const (
	MaxLogRecords = 1000
)

// Streams a log record can come from.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
	StreamEvent  = "event"
)

// LogRecord is one retained line.  Records from a child's stdout and
// stderr are interleaved in arrival order.
type LogRecord struct {
	Seq    int64     `json:"seq,string"`
	Time   time.Time `json:"time"`
	Stream string    `json:"stream"`
	Text   string    `json:"text"`
}

// Log is a fixed-size ring of recent records.  Appending never blocks
// on readers; once full, the oldest record is dropped.  The sequence
// numbers are suitable for use as Etags in REST APIs, but are not
// unique across Log instances.
type Log struct {
	records    []LogRecord
	numRecords int
	maxRecords int
	seq        int64
	cvs        map[*sync.Cond]bool
	mx         sync.Mutex
}

// NewLog returns an empty ring holding up to MaxLogRecords records.
func NewLog() *Log {
	return &Log{
		maxRecords: MaxLogRecords,
		seq:        time.Now().UnixNano(),
		cvs:        make(map[*sync.Cond]bool),
	}
}

func (l *Log) lock() {
	l.mx.Lock()
}

func (l *Log) unlock() {
	l.mx.Unlock()
}

func (l *Log) append(stream, text string) {
	idx := l.numRecords % l.maxRecords
	l.seq++
	l.records[idx].Seq = l.seq
	l.records[idx].Time = time.Now()
	l.records[idx].Stream = stream
	l.records[idx].Text = text
	// NB: numRecords may exceed maxRecords; it really tracks the
	// next index, not the population.
	l.numRecords++
}

// Append adds a single record to the ring.
func (l *Log) Append(stream, text string) {
	l.lock()
	if l.records == nil {
		l.records = make([]LogRecord, l.maxRecords)
	}
	l.append(stream, text)
	for cv := range l.cvs {
		cv.Broadcast()
	}
	l.unlock()
}

// Write implements io.Writer so a Log can back a *log.Logger.  Each
// line becomes an event record.
func (l *Log) Write(b []byte) (int, error) {
	str := strings.Trim(string(b), "\n")
	l.lock()
	if l.records == nil {
		l.records = make([]LogRecord, l.maxRecords)
	}
	for _, line := range strings.Split(str, "\n") {
		l.append(StreamEvent, line)
	}
	for cv := range l.cvs {
		cv.Broadcast()
	}
	l.unlock()
	return len(b), nil
}

// GetRecords returns the retained records along with a sequence number
// usable as an Etag.  If last matches the current sequence, it returns
// nil immediately without duplicating records.
func (l *Log) GetRecords(last int64) ([]LogRecord, int64) {
	l.lock()
	if l.seq == last {
		l.unlock()
		return nil, last
	}
	cnt := l.numRecords
	if cnt > l.maxRecords {
		cnt = l.maxRecords
	}
	recs := make([]LogRecord, 0, cnt)
	index := l.numRecords - cnt
	for j := 0; j < cnt; j++ {
		recs = append(recs, l.records[index%l.maxRecords])
		index++
	}
	seq := l.seq
	l.unlock()
	return recs, seq
}

// Watch blocks until the log has changed relative to last, or the
// expiration passes, and returns the latest sequence number.
func (l *Log) Watch(last int64, expire time.Duration) int64 {
	expired := false
	var timer *time.Timer
	cv := sync.NewCond(&l.mx)
	if expire > 0 {
		timer = time.AfterFunc(expire, func() {
			l.lock()
			expired = true
			cv.Broadcast()
			l.unlock()
		})
	} else {
		expired = true
	}

	l.lock()
	l.cvs[cv] = true
	for {
		if l.seq != last || expired {
			break
		}
		cv.Wait()
	}
	delete(l.cvs, cv)
	if l.seq != last {
		last = l.seq
	}
	l.unlock()
	if timer != nil {
		timer.Stop()
	}
	return last
}

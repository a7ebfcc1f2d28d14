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
	"bytes"
	"io"
	"os"
	"sync"
)

// LogDestination says where one output stream of a child goes.  The
// zero value inherits the supervisor's matching stream.  Any other
// value that is not a keyword is an absolute path appended to.
type LogDestination string

const (
	DestInherit LogDestination = ""
	DestStdout  LogDestination = "stdout"
	DestStderr  LogDestination = "stderr"
	DestDiscard LogDestination = "discard"
)

// maxPartialLine bounds how much of an unterminated line the ring tee
// buffers before flushing it as a record anyway.
const maxPartialLine = 8192

// Router connects child output streams to their destinations.  Bytes
// are copied verbatim, with a line-oriented tee into the per-process
// ring.  A destination that stalls or fails must never put
// back-pressure on the child, so writes always report success.
//
// Append files are opened once and shared between descriptors naming
// the same path; they stay open until Close.
type Router struct {
	stdout *syncWriter
	stderr *syncWriter

	mx    sync.Mutex
	files map[string]*syncWriter
}

// NewRouter returns a Router whose inherited destinations are the two
// supplied writers, normally os.Stdout and os.Stderr.
func NewRouter(stdout, stderr io.Writer) *Router {
	return &Router{
		stdout: &syncWriter{w: stdout},
		stderr: &syncWriter{w: stderr},
		files:  make(map[string]*syncWriter),
	}
}

// Streams resolves the two writers for a child.  File destinations
// that cannot be opened make the whole spawn fail, so the error is
// reported here rather than swallowed.
func (r *Router) Streams(d *ProcessDescriptor, ring *Log) (io.Writer, io.Writer, error) {
	out, err := r.resolve(d.Stdout, r.stdout)
	if err != nil {
		return nil, nil, err
	}
	errw, err := r.resolve(d.Stderr, r.stderr)
	if err != nil {
		return nil, nil, err
	}
	return &streamWriter{dst: out, ring: ring, stream: StreamStdout},
		&streamWriter{dst: errw, ring: ring, stream: StreamStderr},
		nil
}

// Close closes every append file the router opened.
func (r *Router) Close() error {
	r.mx.Lock()
	defer r.mx.Unlock()
	var first error
	for path, sw := range r.files {
		if c, ok := sw.w.(io.Closer); ok {
			if e := c.Close(); e != nil && first == nil {
				first = e
			}
		}
		delete(r.files, path)
	}
	return first
}

func (r *Router) resolve(dest LogDestination, inherit *syncWriter) (*syncWriter, error) {
	switch dest {
	case DestInherit:
		return inherit, nil
	case DestStdout:
		return r.stdout, nil
	case DestStderr:
		return r.stderr, nil
	case DestDiscard:
		return &syncWriter{w: io.Discard}, nil
	}
	r.mx.Lock()
	defer r.mx.Unlock()
	if sw, ok := r.files[string(dest)]; ok {
		return sw, nil
	}
	f, err := os.OpenFile(string(dest), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	sw := &syncWriter{w: f}
	r.files[string(dest)] = sw
	return sw, nil
}

// syncWriter serializes writes to a destination shared by several
// children.
type syncWriter struct {
	mx sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(b []byte) (int, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.w.Write(b)
}

// streamWriter is the per-stream drain handed to the child.  It copies
// bytes to the destination and tees whole lines into the ring.  Bytes
// are never interpreted, only split.
type streamWriter struct {
	dst    io.Writer
	ring   *Log
	stream string
	buf    []byte
}

func (s *streamWriter) Write(b []byte) (int, error) {
	// Destination failures are deliberately dropped; stalling here
	// would block the child on a full pipe.
	s.dst.Write(b)

	if s.ring == nil {
		return len(b), nil
	}
	s.buf = append(s.buf, b...)
	for {
		i := bytes.IndexByte(s.buf, '\n')
		if i < 0 {
			break
		}
		s.ring.Append(s.stream, string(s.buf[:i]))
		s.buf = s.buf[i+1:]
	}
	if len(s.buf) > maxPartialLine {
		s.ring.Append(s.stream, string(s.buf))
		s.buf = s.buf[:0]
	}
	return len(b), nil
}

// Flush records any trailing unterminated line.  The manager calls it
// once the child is gone.
func (s *streamWriter) Flush() {
	if s.ring != nil && len(s.buf) > 0 {
		s.ring.Append(s.stream, string(s.buf))
		s.buf = s.buf[:0]
	}
}

type flusher interface {
	Flush()
}

// flushStreams drains trailing partial lines after a child exits.
func flushStreams(ws ...io.Writer) {
	for _, w := range ws {
		if f, ok := w.(flusher); ok {
			f.Flush()
		}
	}
}

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
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"

	"github.com/stackvisor/stackvisor"
)

// Handler wraps a Supervisor, adding http.Handler functionality.
type Handler struct {
	s *stackvisor.Supervisor
	r *mux.Router

	user string
	hash []byte
	auth bool
}

// NewHandler builds the route table over a supervisor.  Metrics for
// the supervisor are registered on a private registry, so two handlers
// in one process never collide.
func NewHandler(s *stackvisor.Supervisor) *Handler {
	r := mux.NewRouter()
	h := &Handler{s: s, r: r}

	reg := prometheus.NewRegistry()
	reg.MustRegister(stackvisor.NewCollector(s))

	r.HandleFunc("/", h.getInfo).Methods("GET")
	r.HandleFunc("/processes", h.listProcesses).Methods("GET")
	r.HandleFunc("/processes/{process}", h.getProcess).Methods("GET")
	r.HandleFunc("/processes/{process}/start", h.startProcess).Methods("POST")
	r.HandleFunc("/processes/{process}/stop", h.stopProcess).Methods("POST")
	r.HandleFunc("/processes/{process}/restart", h.restartProcess).Methods("POST")
	r.HandleFunc("/processes/{process}/log", h.getProcessLog).Methods("GET")
	r.HandleFunc("/log", h.getLog).Methods("GET")
	r.HandleFunc("/healthz", h.healthz).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return h
}

// SetAuth requires HTTP basic auth on every route except healthz and
// metrics.  The hash is a bcrypt hash of the expected password.
func (h *Handler) SetAuth(user string, passwordHash string) {
	h.user = user
	h.hash = []byte(passwordHash)
	h.auth = true
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if h.auth && !authExempt(req.URL.Path) {
		user, pass, got := req.BasicAuth()
		if !got || user != h.user ||
			bcrypt.CompareHashAndPassword(h.hash, []byte(pass)) != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="stackvisor"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}
	h.r.ServeHTTP(w, req)
}

// Liveness probes and scrapers get in without credentials.
func authExempt(path string) bool {
	return path == "/healthz" || path == "/metrics"
}

func (h *Handler) internalError(w http.ResponseWriter, e error) {
	http.Error(w, e.Error(), http.StatusInternalServerError)
}

func (h *Handler) writeJson(w http.ResponseWriter, v interface{}) {
	if b, e := json.Marshal(v); e != nil {
		h.internalError(w, e)
	} else {
		w.Header().Set("Content-Type", mimeJson)
		w.Write(b)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, e *Error) {
	if b, err := json.Marshal(e); err != nil {
		h.internalError(w, err)
	} else {
		w.Header().Set("Content-Type", mimeJson)
		w.WriteHeader(e.Code)
		w.Write(b)
	}
}

// opError translates supervisor errors into HTTP ones.
func opError(err error) *Error {
	switch {
	case errors.Is(err, stackvisor.ErrUnknownProcess):
		return &Error{http.StatusNotFound, err.Error()}
	case errors.Is(err, stackvisor.ErrAlreadyRunning),
		errors.Is(err, stackvisor.ErrNotRunning):
		return &Error{http.StatusConflict, err.Error()}
	case errors.Is(err, stackvisor.ErrShuttingDown):
		return &Error{http.StatusServiceUnavailable, err.Error()}
	default:
		return &Error{http.StatusBadRequest, err.Error()}
	}
}

// maybeWait honors the long-poll headers: when the client supplies the
// etag it last saw and a wait budget, block in watch until the value
// moves or the budget runs out.
func maybeWait(r *http.Request, watch func(old int64, expire time.Duration)) {
	etag := r.Header.Get(PollEtagHeader)
	if etag == "" {
		return
	}
	old, err := strconv.ParseInt(etag, 10, 64)
	if err != nil {
		return
	}
	secs, err := strconv.Atoi(r.Header.Get(PollTimeHeader))
	if err != nil || secs <= 0 {
		return
	}
	if secs > maxPollSecs {
		secs = maxPollSecs
	}
	watch(old, time.Duration(secs)*time.Second)
}

// notModified handles If-None-Match, and tags the response otherwise.
func notModified(w http.ResponseWriter, r *http.Request, etag string) bool {
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return true
	}
	w.Header().Set("Etag", etag)
	return false
}

func (h *Handler) getInfo(w http.ResponseWriter, r *http.Request) {
	maybeWait(r, func(old int64, expire time.Duration) {
		h.s.WatchSerial(old, expire)
	})
	info := h.s.GetInfo()
	if notModified(w, r, strconv.FormatInt(info.Serial, 10)) {
		return
	}
	h.writeJson(w, info)
}

func (h *Handler) listProcesses(w http.ResponseWriter, r *http.Request) {
	maybeWait(r, func(old int64, expire time.Duration) {
		h.s.WatchSerial(old, expire)
	})
	states := h.s.Processes()
	serial := h.s.Serial()
	if notModified(w, r, strconv.FormatInt(serial, 10)) {
		return
	}
	names := make([]string, 0, len(states))
	for _, ps := range states {
		names = append(names, ps.Name)
	}
	h.writeJson(w, names)
}

func (h *Handler) processInfo(name string) (*ProcessInfo, *Error) {
	ps, err := h.s.Process(name)
	if err != nil {
		return nil, opError(err)
	}
	d, err := h.s.Descriptor(name)
	if err != nil {
		return nil, opError(err)
	}
	info := &ProcessInfo{
		Name:        ps.Name,
		Status:      ps.Status.String(),
		Pid:         ps.PID,
		StartID:     ps.StartID,
		StartedAt:   ps.StartedAt,
		Restarts:    ps.Restarts,
		ExitCode:    ps.ExitCode,
		Command:     d.Command,
		Critical:    d.Critical,
		Autostart:   d.Autostart,
		Autorestart: d.Autorestart,
	}
	if us, err := h.s.Usage(name); err == nil {
		info.CPUPercent = us.CPUPercent
		info.RSSBytes = us.RSSBytes
	}
	return info, nil
}

func (h *Handler) getProcess(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["process"]
	maybeWait(r, func(old int64, expire time.Duration) {
		h.s.WatchSerial(old, expire)
	})
	info, e := h.processInfo(name)
	if e != nil {
		h.writeError(w, e)
		return
	}
	if notModified(w, r, strconv.FormatInt(h.s.Serial(), 10)) {
		return
	}
	h.writeJson(w, info)
}

func (h *Handler) startProcess(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["process"]
	if err := h.s.StartProcess(name); err != nil {
		h.writeError(w, opError(err))
		return
	}
	h.writeJson(w, ok)
}

func (h *Handler) stopProcess(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["process"]
	err := h.s.StopProcess(r.Context(), name)
	// A stop that needed the kill still stopped the process.
	if err != nil && !errors.Is(err, stackvisor.ErrStopTimeout) {
		h.writeError(w, opError(err))
		return
	}
	h.writeJson(w, ok)
}

func (h *Handler) restartProcess(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["process"]
	if err := h.s.RestartProcess(r.Context(), name); err != nil {
		h.writeError(w, opError(err))
		return
	}
	h.writeJson(w, ok)
}

func (h *Handler) getProcessLog(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["process"]
	if _, err := h.s.Process(name); err != nil {
		h.writeError(w, opError(err))
		return
	}
	maybeWait(r, func(old int64, expire time.Duration) {
		h.s.WatchProcessLog(name, old, expire)
	})
	recs, seq, err := h.s.ProcessLog(name, 0)
	if err != nil {
		h.writeError(w, opError(err))
		return
	}
	if notModified(w, r, strconv.FormatInt(seq, 10)) {
		return
	}
	h.writeJson(w, recs)
}

func (h *Handler) getLog(w http.ResponseWriter, r *http.Request) {
	maybeWait(r, func(old int64, expire time.Duration) {
		h.s.WatchLog(old, expire)
	})
	recs, seq := h.s.GetLog(0)
	if notModified(w, r, strconv.FormatInt(seq, 10)) {
		return
	}
	h.writeJson(w, recs)
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	h.writeJson(w, &Health{Status: "ok"})
}

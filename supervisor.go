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
	"io"
	"log"
	"os"
	"sync"
	"time"
)

// Supervisor owns a group of managed processes: it runs the startup
// sequence, launches the autostart descriptors, mediates manual
// lifecycle commands, and takes everything down again.  One Supervisor
// runs per container, in the foreground, as the container's main
// process.
type Supervisor struct {
	cfg      *Config
	launcher Launcher
	router   *Router
	procs    map[string]*managedProcess
	order    []string
	sampler  *UsageSampler

	mlog   *MultiLogger
	elog   *Log
	logger *log.Logger

	serial      int64
	createTime  time.Time
	updateTime  time.Time
	stepResults []StepResult
	cvs         map[*sync.Cond]bool
	mx          sync.Mutex

	cancel    context.CancelFunc
	phase     string
	shutdown  bool
	fatalName string
	fatalCode int
}

// Info is the top-level description served to clients.  State is the
// supervisor's own phase: "startup" until the steps and autostart
// launches finish, "running" while supervising, "stopping" once the
// group is coming down.
type Info struct {
	Name       string    `json:"name"`
	Pid        int       `json:"pid"`
	State      string    `json:"state"`
	Serial     int64     `json:"serial,string"`
	CreateTime time.Time `json:"created"`
	UpdateTime time.Time `json:"updated"`
	Processes  int       `json:"processes"`
}

// New builds a Supervisor from a validated configuration.  The
// returned Supervisor forks real processes and inherits the caller's
// stdout and stderr; tests replace both before calling Run.
func New(cfg *Config) *Supervisor {
	s := &Supervisor{
		cfg:      cfg,
		launcher: NewOSLauncher(),
		router:   NewRouter(os.Stdout, os.Stderr),
		procs:    make(map[string]*managedProcess),
		cvs:      make(map[*sync.Cond]bool),
		// Serial numbers start at the current nanosecond timestamp
		// so a cached etag from a previous incarnation never
		// collides with ours.
		serial:     time.Now().UnixNano(),
		createTime: time.Now(),
		sampler:    NewUsageSampler(),
		phase:      "startup",
	}
	s.updateTime = s.createTime
	s.mlog = NewMultiLogger()
	s.elog = NewLog()
	s.mlog.AddLogger(log.New(s.elog, "", 0))
	s.logger = log.New(os.Stderr, "", log.LstdFlags)
	s.mlog.AddLogger(s.logger)

	for _, d := range cfg.Processes {
		mp := newManagedProcess(d, s.launcher, s.router,
			log.New(s.mlog, "["+d.Name+"] ", 0))
		mp.notify = s.noteChange
		mp.onFatal = s.processFatal
		s.procs[d.Name] = mp
		s.order = append(s.order, d.Name)
	}
	return s
}

// SetLauncher replaces the process launcher.  Call before Run.
func (s *Supervisor) SetLauncher(l Launcher) {
	s.launcher = l
	for _, mp := range s.procs {
		mp.launcher = l
	}
}

// SetStreams replaces the writers behind inherited log destinations.
// Call before Run.
func (s *Supervisor) SetStreams(stdout, stderr io.Writer) {
	s.router = NewRouter(stdout, stderr)
	for _, mp := range s.procs {
		mp.router = s.router
	}
}

// SetLogger overrides the default stderr event logger.
func (s *Supervisor) SetLogger(l *log.Logger) {
	if s.logger != nil {
		s.mlog.DelLogger(s.logger)
	}
	s.logger = l
	s.mlog.AddLogger(l)
}

// SetLogWriter routes the event trail to an arbitrary writer.
func (s *Supervisor) SetLogWriter(w io.Writer) {
	s.SetLogger(log.New(w, "", log.LstdFlags))
}

// Name returns the configured supervisor name.
func (s *Supervisor) Name() string {
	return s.cfg.Name
}

// Config returns the descriptor store the supervisor was built from.
func (s *Supervisor) Config() *Config {
	return s.cfg
}

func (s *Supervisor) lock() {
	s.mx.Lock()
}

func (s *Supervisor) unlock() {
	s.mx.Unlock()
}

func (s *Supervisor) wakeUp() {
	// The lock must be held, or woken goroutines may miss the
	// updated serial.
	for cv := range s.cvs {
		cv.Broadcast()
	}
}

// bumpSerial increments the serial and notifies watchers.  Call with
// the lock held.
func (s *Supervisor) bumpSerial() int64 {
	s.updateTime = time.Now()
	s.serial++
	rv := s.serial
	s.wakeUp()
	return rv
}

// noteChange is handed to every managed process; any state transition
// lands here.
func (s *Supervisor) noteChange() {
	s.lock()
	s.bumpSerial()
	s.unlock()
}

// Serial returns the global serial number, incremented on every
// process state change.
func (s *Supervisor) Serial() int64 {
	s.lock()
	rv := s.serial
	s.unlock()
	return rv
}

// WatchSerial blocks until the global serial differs from old or the
// expiration passes, returning the latest value.  Zero expiration
// polls.
func (s *Supervisor) WatchSerial(old int64, expire time.Duration) int64 {
	expired := false
	cv := sync.NewCond(&s.mx)
	var timer *time.Timer
	var rv int64

	if expire > 0 {
		timer = time.AfterFunc(expire, func() {
			s.lock()
			expired = true
			cv.Broadcast()
			s.unlock()
		})
	} else {
		expired = true
	}

	s.lock()
	s.cvs[cv] = true
	for {
		rv = s.serial
		if rv != old || expired {
			break
		}
		cv.Wait()
	}
	delete(s.cvs, cv)
	s.unlock()
	if timer != nil {
		timer.Stop()
	}
	return rv
}

// GetInfo returns a consistent top-level snapshot.
func (s *Supervisor) GetInfo() *Info {
	s.lock()
	i := &Info{
		Name:       s.cfg.Name,
		Pid:        os.Getpid(),
		State:      s.phase,
		Serial:     s.serial,
		CreateTime: s.createTime,
		UpdateTime: s.updateTime,
		Processes:  len(s.procs),
	}
	s.unlock()
	return i
}

// Processes returns snapshots of every process in declaration order.
func (s *Supervisor) Processes() []ProcessState {
	rv := make([]ProcessState, 0, len(s.order))
	for _, name := range s.order {
		rv = append(rv, s.procs[name].Snapshot())
	}
	return rv
}

// Process returns the snapshot for one process.
func (s *Supervisor) Process(name string) (ProcessState, error) {
	mp, ok := s.procs[name]
	if !ok {
		return ProcessState{}, ErrUnknownProcess
	}
	return mp.Snapshot(), nil
}

// Descriptor returns the configuration one process was built from.
func (s *Supervisor) Descriptor(name string) (ProcessDescriptor, error) {
	mp, ok := s.procs[name]
	if !ok {
		return ProcessDescriptor{}, ErrUnknownProcess
	}
	return mp.d, nil
}

// StartProcess launches a process by name.
func (s *Supervisor) StartProcess(name string) error {
	mp, ok := s.procs[name]
	if !ok {
		return ErrUnknownProcess
	}
	s.lock()
	down := s.shutdown
	s.unlock()
	if down {
		return ErrShuttingDown
	}
	return mp.Start()
}

// StopProcess stops a process by name, waiting for it to go down.
func (s *Supervisor) StopProcess(ctx context.Context, name string) error {
	mp, ok := s.procs[name]
	if !ok {
		return ErrUnknownProcess
	}
	return mp.Stop(ctx)
}

// RestartProcess stops and relaunches a process by name.
func (s *Supervisor) RestartProcess(ctx context.Context, name string) error {
	mp, ok := s.procs[name]
	if !ok {
		return ErrUnknownProcess
	}
	s.lock()
	down := s.shutdown
	s.unlock()
	if down {
		return ErrShuttingDown
	}
	return mp.Restart(ctx)
}

// StepResults returns the outcomes of the startup steps executed so
// far, in execution order.
func (s *Supervisor) StepResults() []StepResult {
	s.lock()
	defer s.unlock()
	return append([]StepResult(nil), s.stepResults...)
}

// GetLog returns the supervisor-wide event records.
func (s *Supervisor) GetLog(last int64) ([]LogRecord, int64) {
	return s.elog.GetRecords(last)
}

// WatchLog blocks until the event log changes relative to old.
func (s *Supervisor) WatchLog(old int64, expire time.Duration) int64 {
	return s.elog.Watch(old, expire)
}

// ProcessLog returns the retained records for one process.
func (s *Supervisor) ProcessLog(name string, last int64) ([]LogRecord, int64, error) {
	mp, ok := s.procs[name]
	if !ok {
		return nil, last, ErrUnknownProcess
	}
	recs, seq := mp.Ring().GetRecords(last)
	return recs, seq, nil
}

// WatchProcessLog blocks until one process log changes relative to old.
func (s *Supervisor) WatchProcessLog(name string, old int64, expire time.Duration) (int64, error) {
	mp, ok := s.procs[name]
	if !ok {
		return old, ErrUnknownProcess
	}
	return mp.Ring().Watch(old, expire), nil
}

// FatalCount reports how many critical failures have been observed.
// At most one can happen per supervisor lifetime, since the first one
// takes the group down.
func (s *Supervisor) FatalCount() int {
	s.lock()
	defer s.unlock()
	if s.fatalName != "" {
		return 1
	}
	return 0
}

// processFatal is called by a managed process when a critical
// descriptor reaches a terminal state.  The first report wins and
// takes the whole group down.
func (s *Supervisor) processFatal(name string, code int) {
	s.lock()
	if s.shutdown || s.fatalName != "" {
		s.unlock()
		return
	}
	s.fatalName = name
	s.fatalCode = code
	cancel := s.cancel
	s.unlock()
	s.logf("critical process %s is down (code %d), stopping everything", name, code)
	if cancel != nil {
		cancel()
	}
}

// Run is the supervisor main loop: startup steps, then autostart
// processes, then block until the context is canceled or a critical
// process dies.  On the way out every process is stopped concurrently,
// each bounded by its own grace period.
//
// The returned error maps directly onto the exit code contract.  Nil
// means a clean shutdown, including cancellation and a critical
// process that exited zero.  A FatalError carries the failed child's
// exit code; anything else is a startup failure.
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.lock()
	s.cancel = cancel
	s.unlock()

	s.logf("*** %s starting ***", s.cfg.Name)

	seq := NewSequencer(s.launcher, s.router,
		s.elog, log.New(s.mlog, "", 0))
	seq.onStep = func(sr StepResult) {
		s.lock()
		s.stepResults = append(s.stepResults, sr)
		s.bumpSerial()
		s.unlock()
	}
	if err := seq.Run(ctx, s.cfg.Steps); err != nil {
		if errors.Is(err, context.Canceled) {
			s.logf("*** %s canceled during startup ***", s.cfg.Name)
			return nil
		}
		s.logf("*** %s startup failed: %v ***", s.cfg.Name, err)
		return err
	}

	launchFailed := false
	for _, name := range s.order {
		mp := s.procs[name]
		if !mp.d.Autostart {
			continue
		}
		// A failed spawn only aborts the launch when it is terminal;
		// with autorestart the manager keeps retrying on its own.
		if err := mp.Start(); err != nil && mp.d.Critical && !mp.d.Autorestart {
			launchFailed = true
			break
		}
	}

	if !launchFailed {
		s.lock()
		s.phase = "running"
		s.bumpSerial()
		s.unlock()
		s.logf("*** %s up, supervising %d processes ***",
			s.cfg.Name, len(s.procs))
		<-ctx.Done()
	}

	s.shutdownAll()

	s.lock()
	fatalName, fatalCode := s.fatalName, s.fatalCode
	s.unlock()
	if fatalName != "" && fatalCode != 0 {
		s.logf("*** %s done (failed: %s) ***", s.cfg.Name, fatalName)
		return &FatalError{Name: fatalName, Code: fatalCode}
	}
	s.logf("*** %s done ***", s.cfg.Name)
	return nil
}

// shutdownAll stops every process concurrently.  Each stop is bounded
// by the descriptor's own grace period, plus headroom for the kill to
// be collected.
func (s *Supervisor) shutdownAll() {
	s.lock()
	s.shutdown = true
	s.phase = "stopping"
	s.bumpSerial()
	s.unlock()

	s.logf("stopping all processes")
	for _, mp := range s.procs {
		mp.markShutdown()
	}
	var wg sync.WaitGroup
	for _, name := range s.order {
		mp := s.procs[name]
		wg.Add(1)
		go func(mp *managedProcess) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(),
				mp.d.StopGrace+5*time.Second)
			defer cancel()
			err := mp.Stop(ctx)
			switch {
			case err == nil:
			case errors.Is(err, ErrNotRunning):
			case errors.Is(err, ErrStopTimeout):
				// Already logged by the manager.
			default:
				s.logf("stop %s: %v", mp.d.Name, err)
			}
		}(mp)
	}
	wg.Wait()
	s.router.Close()
	s.logf("all processes stopped")
}

func (s *Supervisor) logf(format string, v ...interface{}) {
	s.mlog.Logger().Printf(format, v...)
}

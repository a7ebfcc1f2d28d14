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
	"fmt"
	"log"
	"time"
)

// Sequencer runs the one-shot startup steps, strictly in declaration
// order and one at a time.  Steps run before any long-lived process is
// launched and never run twice in one supervisor invocation.
type Sequencer struct {
	launcher Launcher
	router   *Router
	elog     *Log
	logger   *log.Logger
	onStep   func(StepResult)
}

// StepResult records one executed startup step.
type StepResult struct {
	Name     string
	Duration time.Duration
	OK       bool
}

// NewSequencer returns a Sequencer whose step output is routed through
// router and retained in elog.
func NewSequencer(l Launcher, r *Router, elog *Log, logger *log.Logger) *Sequencer {
	return &Sequencer{launcher: l, router: r, elog: elog, logger: logger}
}

// Run executes the steps.  A required step that fails, or times out,
// aborts the remainder and is reported as a StartupError.  An optional
// step that fails is logged and skipped.  Cancellation kills the step
// in flight and returns ctx.Err unchanged, so callers can tell an
// operator-requested shutdown from a failed launch.
func (s *Sequencer) Run(ctx context.Context, steps []StartupStep) error {
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.logger.Printf("startup %s: running", step.Name)
		start := time.Now()
		err := s.runStep(ctx, step)
		if s.onStep != nil {
			s.onStep(StepResult{
				Name:     step.Name,
				Duration: time.Since(start),
				OK:       err == nil,
			})
		}
		if err == nil {
			s.logger.Printf("startup %s: done in %v",
				step.Name, time.Since(start).Round(time.Millisecond))
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			s.logger.Printf("startup %s: canceled", step.Name)
			return ctxErr
		}
		if step.Required {
			s.logger.Printf("startup %s: failed: %v", step.Name, err)
			return &StartupError{Step: step.Name, Err: err}
		}
		s.logger.Printf("startup %s: failed, continuing: %v", step.Name, err)
	}
	return nil
}

func (s *Sequencer) runStep(ctx context.Context, step StartupStep) error {
	d := &ProcessDescriptor{
		Name:    step.Name,
		Command: step.Command,
	}
	stdout, stderr, err := s.router.Streams(d, s.elog)
	if err != nil {
		return err
	}
	h, err := s.launcher.Spawn(d, stdout, stderr)
	if err != nil {
		return err
	}

	done := make(chan int, 1)
	go func() {
		done <- h.Wait()
	}()

	timer := time.NewTimer(step.Timeout)
	defer timer.Stop()

	select {
	case code := <-done:
		flushStreams(stdout, stderr)
		if code != 0 {
			return fmt.Errorf("exited with code %d", code)
		}
		return nil
	case <-timer.C:
		h.Kill()
		<-done
		flushStreams(stdout, stderr)
		return fmt.Errorf("timed out after %v", step.Timeout)
	case <-ctx.Done():
		h.Kill()
		<-done
		flushStreams(stdout, stderr)
		return ctx.Err()
	}
}

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
	"github.com/prometheus/client_golang/prometheus"
)

var (
	descState = prometheus.NewDesc(
		"stackvisor_process_state",
		"Process lifecycle state (0 pending, 1 starting, 2 running, 3 stopping, 4 exited, 5 fatal).",
		[]string{"process"}, nil)
	descRestarts = prometheus.NewDesc(
		"stackvisor_process_restarts_total",
		"Completed crash-restart cycles.",
		[]string{"process"}, nil)
	descStartTime = prometheus.NewDesc(
		"stackvisor_process_start_time_seconds",
		"Unix time the current incarnation started.",
		[]string{"process"}, nil)
	descCPU = prometheus.NewDesc(
		"stackvisor_process_cpu_percent",
		"CPU usage of the child process.",
		[]string{"process"}, nil)
	descRSS = prometheus.NewDesc(
		"stackvisor_process_rss_bytes",
		"Resident memory of the child process.",
		[]string{"process"}, nil)
	descFatal = prometheus.NewDesc(
		"stackvisor_fatal_total",
		"Critical process failures observed.",
		nil, nil)
	descStepDuration = prometheus.NewDesc(
		"stackvisor_startup_step_duration_seconds",
		"Wall time of an executed startup step.",
		[]string{"step"}, nil)
	descStepOK = prometheus.NewDesc(
		"stackvisor_startup_step_ok",
		"Whether the startup step succeeded (1) or failed (0).",
		[]string{"step"}, nil)
)

// Collector exposes supervisor state to Prometheus.  It reads process
// snapshots at scrape time; there is no background sampling loop.
type Collector struct {
	s *Supervisor
}

// NewCollector returns a Collector for the given supervisor.  Register
// it with a prometheus.Registerer to serve scrapes.
func NewCollector(s *Supervisor) *Collector {
	return &Collector{s: s}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descState
	ch <- descRestarts
	ch <- descStartTime
	ch <- descCPU
	ch <- descRSS
	ch <- descFatal
	ch <- descStepDuration
	ch <- descStepOK
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, ps := range c.s.Processes() {
		ch <- prometheus.MustNewConstMetric(descState,
			prometheus.GaugeValue, float64(ps.Status), ps.Name)
		ch <- prometheus.MustNewConstMetric(descRestarts,
			prometheus.CounterValue, float64(ps.Restarts), ps.Name)
		if ps.Status == Running || ps.Status == Stopping {
			ch <- prometheus.MustNewConstMetric(descStartTime,
				prometheus.GaugeValue,
				float64(ps.StartedAt.UnixNano())/1e9, ps.Name)
		}
		if ps.PID > 0 {
			if us, ok := c.s.sampler.Sample(ps.PID); ok {
				ch <- prometheus.MustNewConstMetric(descCPU,
					prometheus.GaugeValue, us.CPUPercent, ps.Name)
				ch <- prometheus.MustNewConstMetric(descRSS,
					prometheus.GaugeValue, float64(us.RSSBytes), ps.Name)
			}
		}
	}
	ch <- prometheus.MustNewConstMetric(descFatal,
		prometheus.CounterValue, float64(c.s.FatalCount()))
	for _, sr := range c.s.StepResults() {
		ch <- prometheus.MustNewConstMetric(descStepDuration,
			prometheus.GaugeValue, sr.Duration.Seconds(), sr.Name)
		ok := 0.0
		if sr.OK {
			ok = 1
		}
		ch <- prometheus.MustNewConstMetric(descStepOK,
			prometheus.GaugeValue, ok, sr.Name)
	}
}

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

package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/stackvisor/stackvisor/rest"
)

// statusRow flattens a ProcessInfo into table cells.
func statusRow(p *rest.ProcessInfo) []string {
	pid := "-"
	if p.Pid > 0 {
		pid = strconv.Itoa(p.Pid)
	}
	uptime := "-"
	if p.Status == "running" || p.Status == "stopping" {
		uptime = fmtDuration(time.Since(p.StartedAt))
	}
	cpu := "-"
	rss := "-"
	if p.Pid > 0 {
		cpu = fmt.Sprintf("%.1f", p.CPUPercent)
		rss = fmtBytes(p.RSSBytes)
	}
	return []string{
		p.Name, p.Status, pid, uptime,
		strconv.Itoa(p.Restarts), cpu, rss,
	}
}

func fmtDuration(d time.Duration) string {
	switch {
	case d >= 24*time.Hour:
		return fmt.Sprintf("%dd%dh", int(d.Hours())/24, int(d.Hours())%24)
	case d >= time.Hour:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	case d >= time.Minute:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
}

func fmtBytes(n uint64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1fGiB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1fMiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1fKiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%dB", n)
	}
}

// printRecords writes log records, optionally only those past seq, and
// returns the highest sequence seen.
func printRecords(recs []rest.LogRecord, after int64, showTime bool) int64 {
	last := after
	for _, r := range recs {
		if r.Seq <= after {
			continue
		}
		if showTime {
			fmt.Printf("%s [%s] %s\n",
				r.Time.Format(time.RFC3339), r.Stream, r.Text)
		} else {
			fmt.Printf("[%s] %s\n", r.Stream, r.Text)
		}
		if r.Seq > last {
			last = r.Seq
		}
	}
	return last
}

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
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shirou/gopsutil/v3/process"
)

// Usage is a point-in-time resource sample for one child.
type Usage struct {
	CPUPercent float64 `json:"cpuPercent"`
	RSSBytes   uint64  `json:"rssBytes"`
}

// Samples stay warm this long, so a chatty status client or scraper
// does not hammer /proc.
const usageTTL = 2 * time.Second

// UsageSampler reads CPU and memory usage for live children, with a
// short-lived cache in front.
type UsageSampler struct {
	cache *cache.Cache
}

// NewUsageSampler returns a sampler with an empty cache.
func NewUsageSampler() *UsageSampler {
	return &UsageSampler{
		cache: cache.New(usageTTL, 2*usageTTL),
	}
}

// Sample returns the usage of one pid, or false when the process is
// gone or unreadable.
func (u *UsageSampler) Sample(pid int) (Usage, bool) {
	if pid <= 0 {
		return Usage{}, false
	}
	key := strconv.Itoa(pid)
	if v, ok := u.cache.Get(key); ok {
		return v.(Usage), true
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return Usage{}, false
	}
	var us Usage
	if pct, err := p.CPUPercent(); err == nil {
		us.CPUPercent = pct
	}
	if mi, err := p.MemoryInfo(); err == nil && mi != nil {
		us.RSSBytes = mi.RSS
	}
	u.cache.Set(key, us, cache.DefaultExpiration)
	return us, true
}

// Usage returns the current resource sample for a running process.
func (s *Supervisor) Usage(name string) (Usage, error) {
	ps, err := s.Process(name)
	if err != nil {
		return Usage{}, err
	}
	if ps.PID == 0 {
		return Usage{}, ErrNotRunning
	}
	us, ok := s.sampler.Sample(ps.PID)
	if !ok {
		return Usage{}, ErrNotRunning
	}
	return us, nil
}

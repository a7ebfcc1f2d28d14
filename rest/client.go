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
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Client talks to a supervisor's control API.  Fetches are cached by
// etag, and the Watch variants long poll on the server so callers can
// follow changes without spinning.
type Client struct {
	user   string // HTTP Basic-Auth
	pass   string
	base   string // URI to root of tree on server
	auth   bool
	client *http.Client

	// Cached data
	info  *SupervisorInfo
	procs map[string]*ProcessInfo
	names []string
	etag  string // etag for the process list
	logs  map[string]*LogInfo
	lock  sync.Mutex
}

// NewClient returns a Client handle.  The transport may be nil to use
// a default transport, or supplied to add options such as TLS.
// baseURI is the address of the server root.
func NewClient(t *http.Transport, baseURI string) *Client {
	if t == nil {
		t = &http.Transport{}
	}
	return &Client{
		base:   strings.TrimSuffix(baseURI, "/"),
		client: &http.Client{Transport: t},
		procs:  make(map[string]*ProcessInfo),
		logs:   make(map[string]*LogInfo),
	}
}

// SetAuth supplies basic-auth credentials for every request.
func (c *Client) SetAuth(user string, pass string) {
	c.user = user
	c.pass = pass
	c.auth = true
}

func (c *Client) url(name string) string {
	if name == "" {
		return c.base + "/processes"
	}
	return c.base + "/processes/" + url.PathEscape(name)
}

// poll issues a GET, optionally long polling until the etag moves.
// The return values are the new etag and any error; an unchanged value
// comes back as an empty etag with a nil error.
func (c *Client) poll(ctx context.Context, url string, etag string, wait int, v interface{}) (string, error) {
	req, e := http.NewRequestWithContext(ctx, "GET", url, nil)
	if e != nil {
		return "", e
	}
	if c.auth {
		req.SetBasicAuth(c.user, c.pass)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
		if wait > 0 {
			req.Header.Set(PollEtagHeader, etag)
			req.Header.Set(PollTimeHeader, strconv.Itoa(wait))
		}
	}
	res, e := c.client.Do(req)
	if e != nil {
		return "", e
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotModified {
		return "", nil
	}
	if res.StatusCode != http.StatusOK {
		return "", &Error{Code: res.StatusCode, Message: res.Status}
	}
	body, e := io.ReadAll(res.Body)
	if e != nil {
		return "", e
	}
	if e := json.Unmarshal(body, v); e != nil {
		return "", e
	}
	return res.Header.Get("Etag"), nil
}

func (c *Client) post(url string) error {
	req, e := http.NewRequest("POST", url, strings.NewReader(""))
	if e != nil {
		return e
	}
	req.Header.Set("Content-Type", "text/plain")
	if c.auth {
		req.SetBasicAuth(c.user, c.pass)
	}
	res, e := c.client.Do(req)
	if e != nil {
		return e
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return &Error{Code: res.StatusCode, Message: res.Status}
	}
	return nil
}

// GetInfo fetches the top-level supervisor snapshot.
func (c *Client) GetInfo() (*SupervisorInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return c.pollInfo(ctx, 0, nil)
}

// WatchInfo blocks until the supervisor state moves past last, and
// returns the fresh snapshot.
func (c *Client) WatchInfo(ctx context.Context, last *SupervisorInfo) (*SupervisorInfo, error) {
	return c.pollInfo(ctx, maxPollSecs, last)
}

func (c *Client) pollInfo(ctx context.Context, secs int, last *SupervisorInfo) (*SupervisorInfo, error) {
	c.lock.Lock()
	cached := c.info
	c.lock.Unlock()

	otag := ""
	if last == nil {
		secs = 0
	} else if cached != nil && last.etag != cached.etag {
		// The cache has already moved past what the caller saw.
		return cached, nil
	} else {
		otag = last.etag
	}

	v := &SupervisorInfo{}
	etag, e := c.poll(ctx, c.base+"/", otag, secs, v)
	if e != nil {
		return nil, e
	}
	if etag == "" {
		return cached, nil
	}
	v.etag = etag
	c.lock.Lock()
	c.info = v
	c.lock.Unlock()
	return v, nil
}

// Processes returns the list of process names.
func (c *Client) Processes() ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return c.pollProcesses(ctx, 0)
}

func (c *Client) pollProcesses(ctx context.Context, secs int) ([]string, error) {
	var e error
	v := []string{}

	c.lock.Lock()
	otag := c.etag
	onames := c.names
	c.lock.Unlock()

	etag := ""
	if etag, e = c.poll(ctx, c.url(""), otag, secs, &v); e != nil {
		return nil, e
	}
	if etag == "" || etag == otag {
		return onames, nil
	}

	procs := make(map[string]*ProcessInfo)
	c.lock.Lock()
	c.etag = etag
	c.names = v
	// Keep cached entries that survived the change.
	for _, n := range v {
		if p, got := c.procs[n]; got {
			procs[n] = p
			delete(c.procs, n)
		}
	}
	c.procs = procs
	c.lock.Unlock()

	return v, nil
}

func (c *Client) pollProcess(ctx context.Context, name string, secs int, last *ProcessInfo) (*ProcessInfo, error) {
	v := &ProcessInfo{}
	c.lock.Lock()
	cached, got := c.procs[name]
	c.lock.Unlock()

	otag := ""
	if last == nil {
		secs = 0
	} else if got && last.etag != cached.etag {
		return cached, nil
	} else {
		otag = last.etag
	}

	etag, e := c.poll(ctx, c.url(name), otag, secs, v)
	if e != nil {
		c.lock.Lock()
		delete(c.procs, name)
		c.lock.Unlock()
		return nil, e
	}
	if etag == "" {
		return cached, nil
	}
	v.etag = etag
	c.lock.Lock()
	c.procs[name] = v
	c.lock.Unlock()
	return v, nil
}

// GetProcess fetches the full view of one process.
func (c *Client) GetProcess(name string) (*ProcessInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return c.pollProcess(ctx, name, 0, nil)
}

// WatchProcess blocks until the process state moves past last.
func (c *Client) WatchProcess(ctx context.Context, name string, last *ProcessInfo) (*ProcessInfo, error) {
	return c.pollProcess(ctx, name, maxPollSecs, last)
}

func (c *Client) postProcess(name string, action string) error {
	return c.post(c.url(name) + "/" + action)
}

// StartProcess launches a process by name.
func (c *Client) StartProcess(name string) error {
	return c.postProcess(name, "start")
}

// StopProcess stops a process by name.
func (c *Client) StopProcess(name string) error {
	return c.postProcess(name, "stop")
}

// RestartProcess stops and relaunches a process by name.
func (c *Client) RestartProcess(name string) error {
	return c.postProcess(name, "restart")
}

func (c *Client) pollLog(ctx context.Context, name string, secs int, last *LogInfo) (*LogInfo, error) {
	v := &LogInfo{name: name}

	c.lock.Lock()
	cached, got := c.logs[name]
	c.lock.Unlock()

	otag := ""
	if last == nil {
		secs = 0
	} else if got && last.etag != cached.etag {
		return cached, nil
	} else {
		otag = last.etag
	}

	url := c.url(name) + "/log"
	if name == "" {
		url = c.base + "/log"
	}

	etag, e := c.poll(ctx, url, otag, secs, &v.Records)
	if e != nil {
		c.lock.Lock()
		delete(c.logs, name)
		c.lock.Unlock()
		return nil, e
	}
	if etag == "" {
		return cached, nil
	}
	v.etag = etag
	c.lock.Lock()
	c.logs[name] = v
	c.lock.Unlock()
	return v, nil
}

// GetLog fetches the retained log for one process, or the supervisor
// event log when name is empty.
func (c *Client) GetLog(name string) (*LogInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return c.pollLog(ctx, name, 0, nil)
}

// WatchLog blocks until the log grows past last.
func (c *Client) WatchLog(ctx context.Context, name string, last *LogInfo) (*LogInfo, error) {
	return c.pollLog(ctx, name, maxPollSecs, last)
}

// Health probes the healthz endpoint.
func (c *Client) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v := &Health{}
	if _, e := c.poll(ctx, c.base+"/healthz", "", 0, v); e != nil {
		return e
	}
	if v.Status != "ok" {
		return &Error{Code: http.StatusServiceUnavailable, Message: v.Status}
	}
	return nil
}

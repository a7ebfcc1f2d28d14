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
	"os"
	"strings"

	"github.com/stackvisor/stackvisor/rest"
)

const defaultAddress = "http://127.0.0.1:9321"

// newClient builds a control API client from the flags, falling back
// to the environment and then loopback defaults.
func newClient() *rest.Client {
	addr := ctlAddr
	if addr == "" {
		addr = os.Getenv("STACKVISOR_ADDRESS")
	}
	if addr == "" {
		addr = defaultAddress
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	c := rest.NewClient(nil, addr)

	auth := ctlAuth
	if auth == "" {
		auth = os.Getenv("STACKVISOR_AUTH")
	}
	if auth != "" {
		user, pass, _ := strings.Cut(auth, ":")
		c.SetAuth(user, pass)
	}
	return c
}

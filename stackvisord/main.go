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

// stackvisord is the container entrypoint: it loads the declarative
// configuration, runs the startup steps, launches and supervises the
// long-running processes, and exits with a code that tells the
// container runtime what happened.  It always runs in the foreground.
package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/net/netutil"

	"github.com/stackvisor/stackvisor"
	"github.com/stackvisor/stackvisor/rest"
)

// The control API is loopback-scoped; this just keeps a runaway
// client from exhausting our file descriptors.
const maxControlConns = 64

type Options struct {
	Config string
	Listen string
	Name   string
}

func NewOptions() *Options {
	return &Options{
		Config: "/etc/stackvisor/stackvisor.yaml",
	}
}

func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&o.Config, "config", "c", o.Config, "configuration file")
	fs.StringVarP(&o.Listen, "listen", "l", o.Listen, "control API listen address (overrides config)")
	fs.StringVarP(&o.Name, "name", "n", o.Name, "supervisor name (overrides config)")
}

func main() {
	opts := NewOptions()
	opts.AddFlags(pflag.CommandLine)
	pflag.Parse()
	os.Exit(run(opts))
}

func run(opts *Options) int {
	log.SetFlags(log.LstdFlags)
	log.SetPrefix("stackvisord: ")

	cfg, err := stackvisor.LoadConfig(opts.Config)
	if err != nil {
		log.Printf("%v", err)
		return 1
	}
	if opts.Listen != "" {
		cfg.Control.Listen = opts.Listen
	}
	if opts.Name != "" {
		cfg.Name = opts.Name
	}

	s := stackvisor.New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		sig := <-sigs
		log.Printf("caught %v, shutting down", sig)
		cancel()
	}()

	var srv *http.Server
	if cfg.Control.Enabled() {
		h := rest.NewHandler(s)
		if cfg.Control.Username != "" {
			h.SetAuth(cfg.Control.Username, cfg.Control.PasswordHash)
		}
		l, err := net.Listen("tcp", cfg.Control.Listen)
		if err != nil {
			log.Printf("control api: %v", err)
			return 1
		}
		l = netutil.LimitListener(l, maxControlConns)
		srv = &http.Server{Handler: h}
		go func() {
			if e := srv.Serve(l); e != nil && e != http.ErrServerClosed {
				log.Printf("control api: %v", e)
			}
		}()
		log.Printf("control api on %s", cfg.Control.Listen)
	}

	err = s.Run(ctx)

	if srv != nil {
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		srv.Shutdown(sctx)
		scancel()
	}
	if err != nil {
		log.Printf("%v", err)
	}
	return stackvisor.ExitCode(err)
}

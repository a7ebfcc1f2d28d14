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
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <process>",
		Short: "Show one process in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			p, err := c.GetProcess(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Name:        %s\n", p.Name)
			fmt.Printf("Status:      %s\n", p.Status)
			fmt.Printf("Command:     %s\n", strings.Join(p.Command, " "))
			if p.Pid > 0 {
				fmt.Printf("Pid:         %d\n", p.Pid)
				fmt.Printf("Started:     %s (up %s)\n",
					p.StartedAt.Format(time.RFC3339),
					fmtDuration(time.Since(p.StartedAt)))
				fmt.Printf("Start id:    %s\n", p.StartID)
				fmt.Printf("CPU:         %.1f%%\n", p.CPUPercent)
				fmt.Printf("RSS:         %s\n", fmtBytes(p.RSSBytes))
			}
			fmt.Printf("Restarts:    %d\n", p.Restarts)
			if p.ExitCode >= 0 {
				fmt.Printf("Last exit:   %d\n", p.ExitCode)
			}
			fmt.Printf("Critical:    %v\n", p.Critical)
			fmt.Printf("Autostart:   %v\n", p.Autostart)
			fmt.Printf("Autorestart: %v\n", p.Autorestart)
			return nil
		},
	}
}

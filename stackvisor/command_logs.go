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
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newLogsCmd() *cobra.Command {
	var follow bool
	var showTime bool

	cmd := &cobra.Command{
		Use:   "logs <process>",
		Short: "Show the retained output of a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			li, err := c.GetLog(args[0])
			if err != nil {
				return err
			}
			var last int64
			if li != nil {
				last = printRecords(li.Records, 0, showTime)
			}
			if !follow {
				return nil
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(),
				os.Interrupt, syscall.SIGTERM)
			defer cancel()
			for {
				li, err = c.WatchLog(ctx, args[0], li)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
				if li != nil {
					last = printRecords(li.Records, last, showTime)
				}
			}
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep waiting for new output")
	cmd.Flags().BoolVarP(&showTime, "timestamps", "t", false, "prefix each line with its time")
	return cmd
}

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
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the state of every process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			info, err := c.GetInfo()
			if err != nil {
				return err
			}
			names, err := c.Processes()
			if err != nil {
				return err
			}

			fmt.Printf("%s (pid %d) %s, %d processes\n\n",
				info.Name, info.Pid, info.State, info.Processes)

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{
				"NAME", "STATUS", "PID", "UPTIME", "RESTARTS", "CPU%", "RSS"})
			table.SetBorder(false)
			table.SetColumnSeparator("")
			table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
			table.SetAlignment(tablewriter.ALIGN_LEFT)
			for _, name := range names {
				p, err := c.GetProcess(name)
				if err != nil {
					return err
				}
				table.Append(statusRow(p))
			}
			table.Render()
			return nil
		},
	}
}

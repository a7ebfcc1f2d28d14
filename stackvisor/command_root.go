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

import "github.com/spf13/cobra"

var (
	ctlAddr string
	ctlAuth string
)

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "stackvisor",
		Short:         "Control a running stackvisord",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&ctlAddr, "address", "a", "",
		"control API address (default $STACKVISOR_ADDRESS or http://127.0.0.1:9321)")
	root.PersistentFlags().StringVarP(&ctlAuth, "user", "u", "",
		"basic auth credentials as user:password (default $STACKVISOR_AUTH)")

	root.AddCommand(newStatusCmd())
	root.AddCommand(newInfoCmd())
	root.AddCommand(newStartCmd())
	root.AddCommand(newStopCmd())
	root.AddCommand(newRestartCmd())
	root.AddCommand(newLogsCmd())
	root.AddCommand(newEventsCmd())
	root.AddCommand(newMonitorCmd())

	return root
}

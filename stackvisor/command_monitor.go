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
	"context"
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/spf13/cobra"

	"github.com/stackvisor/stackvisor/rest"
)

var (
	styleNormal = tcell.StyleDefault
	styleTitle  = tcell.StyleDefault.Reverse(true)
	styleGood   = tcell.StyleDefault.Foreground(tcell.ColorGreen)
	styleWarn   = tcell.StyleDefault.Foreground(tcell.ColorYellow)
	styleError  = tcell.StyleDefault.Foreground(tcell.ColorRed)
)

func newMonitorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Watch all processes in a full-screen view",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitor(cmd.Context())
		},
	}
}

type monitor struct {
	c       *rest.Client
	screen  tcell.Screen
	err     error
	info    *rest.SupervisorInfo
	procs   []*rest.ProcessInfo
	sel     int
	lastErr error // most recent action failure
}

func runMonitor(ctx context.Context) error {
	screen, err := tcell.NewScreen()
	if err != nil {
		return err
	}
	if err := screen.Init(); err != nil {
		return err
	}
	defer screen.Fini()

	m := &monitor{c: newClient(), screen: screen}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Long poll in the background; each change interrupts the event
	// loop so the screen refreshes immediately.
	go func() {
		var last *rest.SupervisorInfo
		for ctx.Err() == nil {
			info, err := m.c.WatchInfo(ctx, last)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				time.Sleep(time.Second)
			} else {
				last = info
			}
			screen.PostEvent(tcell.NewEventInterrupt(nil))
		}
	}()

	for {
		m.refresh()
		m.draw()
		switch ev := screen.PollEvent().(type) {
		case *tcell.EventKey:
			switch {
			case ev.Key() == tcell.KeyEscape || ev.Key() == tcell.KeyCtrlC:
				return nil
			case ev.Key() == tcell.KeyUp:
				if m.sel > 0 {
					m.sel--
				}
			case ev.Key() == tcell.KeyDown:
				if m.sel < len(m.procs)-1 {
					m.sel++
				}
			default:
				switch ev.Rune() {
				case 'Q', 'q':
					return nil
				case 'S', 's':
					m.action(m.c.StartProcess)
				case 'T', 't':
					m.action(m.c.StopProcess)
				case 'R', 'r':
					m.action(m.c.RestartProcess)
				}
			}
		case *tcell.EventResize:
			screen.Sync()
		case *tcell.EventInterrupt:
			if e, ok := ev.Data().(error); ok {
				m.lastErr = e
			}
		case nil:
			return nil
		}
	}
}

// action runs a lifecycle command against the selected process.  It
// posts off the event loop so a slow stop never freezes the screen;
// the completion interrupt triggers a redraw either way.
func (m *monitor) action(fn func(string) error) {
	if m.sel >= len(m.procs) {
		return
	}
	name := m.procs[m.sel].Name
	m.lastErr = nil
	go func() {
		err := fn(name)
		m.screen.PostEvent(tcell.NewEventInterrupt(err))
	}()
}

func (m *monitor) refresh() {
	m.info, m.err = m.c.GetInfo()
	if m.err != nil {
		return
	}
	names, err := m.c.Processes()
	if err != nil {
		m.err = err
		return
	}
	procs := make([]*rest.ProcessInfo, 0, len(names))
	for _, name := range names {
		p, err := m.c.GetProcess(name)
		if err != nil {
			m.err = err
			return
		}
		procs = append(procs, p)
	}
	m.procs = procs
	if m.sel >= len(procs) {
		m.sel = len(procs) - 1
	}
	if m.sel < 0 {
		m.sel = 0
	}
}

func statusStyle(status string) tcell.Style {
	switch status {
	case "running":
		return styleGood
	case "starting", "stopping", "pending":
		return styleWarn
	case "exited", "fatal":
		return styleError
	}
	return styleNormal
}

func (m *monitor) draw() {
	s := m.screen
	s.Clear()
	w, _ := s.Size()

	title := "stackvisor"
	if m.info != nil {
		title = fmt.Sprintf("%s  pid %d  %d processes",
			m.info.Name, m.info.Pid, m.info.Processes)
	}
	emitStr(s, 0, 0, styleTitle, pad(title, w))

	if m.err != nil {
		emitStr(s, 0, 2, styleError, m.err.Error())
		emitStr(s, 0, 4, styleNormal, "q to quit")
		s.Show()
		return
	}

	header := fmt.Sprintf("%-16s %-9s %6s %8s %8s %6s %9s",
		"NAME", "STATUS", "PID", "UPTIME", "RESTARTS", "CPU%", "RSS")
	emitStr(s, 0, 2, styleTitle, pad(header, w))
	for i, p := range m.procs {
		row := statusRow(p)
		line := fmt.Sprintf("%-16s %-9s %6s %8s %8s %6s %9s",
			row[0], row[1], row[2], row[3], row[4], row[5], row[6])
		style := statusStyle(p.Status)
		if i == m.sel {
			style = style.Reverse(true)
			line = pad(line, w)
		}
		emitStr(s, 0, 3+i, style, line)
	}
	emitStr(s, 0, 4+len(m.procs), styleNormal,
		"q quit   s start   t stop   r restart")
	if m.lastErr != nil {
		emitStr(s, 0, 5+len(m.procs), styleError, m.lastErr.Error())
	}
	s.Show()
}

func emitStr(s tcell.Screen, x, y int, style tcell.Style, str string) {
	for _, r := range str {
		s.SetContent(x, y, r, nil, style)
		x++
	}
}

func pad(s string, w int) string {
	for len(s) < w {
		s += " "
	}
	return s
}

package main

import (
	"fmt"
	"io"
)

// textMonitor prints task names and percentages as a line each.
type textMonitor struct {
	w     io.Writer
	total int
	done  int
	name  string
}

func (m *textMonitor) BeginTask(name string, totalWork int) {
	m.name = name
	m.total = totalWork
	m.done = 0
	fmt.Fprintf(m.w, "%s\n", name)
}

func (m *textMonitor) SetTaskName(name string) {
	if name == m.name {
		return
	}
	m.name = name
	fmt.Fprintf(m.w, "  %s\n", name)
}

func (m *textMonitor) Worked(work int) {
	m.done += work
}

func (m *textMonitor) Done() {
	if m.total > 0 {
		fmt.Fprintf(m.w, "%s: done (%d/%d)\n", m.name, min(m.done, m.total), m.total)
	}
}

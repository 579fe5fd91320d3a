package main

import (
	"bytes"
	"testing"

	"wsundo/internal/undo"
)

func TestTextMonitor(t *testing.T) {
	var buf bytes.Buffer
	m := &textMonitor{w: &buf}

	m.BeginTask("Creating /p", 10)
	sub := undo.Split(m, 10)
	sub.BeginTask("Creating /p/a.txt", 2)
	sub.Worked(2)
	sub.Done()
	m.Done()

	got := buf.String()
	if !bytes.HasPrefix(buf.Bytes(), []byte("Creating /p\n")) {
		t.Errorf("output = %q, want task name first", got)
	}
	if !bytes.Contains(buf.Bytes(), []byte("(10/10)")) {
		t.Errorf("output = %q, want the task completed", got)
	}
}

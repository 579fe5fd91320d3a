package undo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplit(t *testing.T) {
	parent := &recordingMonitor{}
	sub := Split(parent, 100)
	sub.BeginTask("copy", 3)

	sub.Worked(1)
	assert.Equal(t, 33, parent.worked)
	sub.Worked(1)
	assert.Equal(t, 66, parent.worked)
	sub.Worked(5)
	assert.Equal(t, 100, parent.worked)
	sub.Done()
	assert.Equal(t, 100, parent.worked)
}

func TestSplit_DoneWithoutWork(t *testing.T) {
	parent := &recordingMonitor{}
	sub := Split(parent, 40)
	sub.Done()
	sub.Done()
	assert.Equal(t, 40, parent.worked)
}

func TestSplit_NilParent(t *testing.T) {
	assert.Equal(t, NopMonitor{}, Split(nil, 10))
}

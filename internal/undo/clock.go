package undo

import (
	"time"

	"github.com/google/uuid"
)

// Clock stamps workspace rows, virtual resources and history states.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// IDGenerator names history states. A description refers to the state
// holding its content by this ID once it has been exported.
type IDGenerator interface {
	New() string
}

// UUIDGenerator names states with random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.New().String() }

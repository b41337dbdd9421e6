package event

import (
	"time"

	"github.com/google/uuid"
	"github.com/l1jgo/objcore/internal/core/object"
)

// Collector lifecycle events, emitted by the GC system after each cycle.

type ObjectSoftKilled struct {
	Cycle  uint64
	Handle object.Handle
	GUID   uuid.UUID
	Type   string
	Name   string
}

type ObjectReclaimed struct {
	Cycle  uint64
	Handle object.Handle
	GUID   uuid.UUID
	Type   string
	Name   string
}

type CycleCompleted struct {
	Cycle      uint64
	Duration   time.Duration
	Marked     int
	SoftKilled int
	Reclaimed  int
	Purged     int
	Tracked    int
}

package system

import (
	"context"
	"sync"
	"time"

	"github.com/l1jgo/objcore/internal/core/gc"
	coresys "github.com/l1jgo/objcore/internal/core/system"
	"go.uber.org/zap"
)

// maxPending bounds the reports kept while the store is unreachable.
const maxPending = 1024

// CycleStore persists collection reports; *persist.CycleRepo implements it.
type CycleStore interface {
	WriteBatch(ctx context.Context, reports []gc.CycleReport) error
}

// PersistenceSystem buffers every cycle report of a collector and flushes
// them to a CycleStore every N ticks. Phase 5 (Persist).
type PersistenceSystem struct {
	store     CycleStore
	log       *zap.Logger
	interval  int
	tickCount int

	mu      sync.Mutex
	pending []gc.CycleReport
	dropped int
}

func NewPersistenceSystem(c *gc.Collector, store CycleStore, log *zap.Logger, intervalTicks int) *PersistenceSystem {
	if intervalTicks < 1 {
		intervalTicks = 1
	}
	s := &PersistenceSystem{store: store, log: log, interval: intervalTicks}
	c.OnCycle(s.record)
	return s
}

func (s *PersistenceSystem) Phase() coresys.Phase { return coresys.PhasePersist }

func (s *PersistenceSystem) Update(_ time.Duration) {
	s.tickCount++
	if s.tickCount < s.interval {
		return
	}
	s.tickCount = 0
	s.Flush()
}

func (s *PersistenceSystem) record(rep gc.CycleReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) >= maxPending {
		s.pending = s.pending[1:]
		s.dropped++
	}
	s.pending = append(s.pending, rep)
}

// Pending returns the number of reports waiting for a flush.
func (s *PersistenceSystem) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Flush writes buffered reports. On failure they stay buffered for the next
// attempt. Called for graceful shutdown as well.
func (s *PersistenceSystem) Flush() {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	dropped := s.dropped
	s.dropped = 0
	s.mu.Unlock()
	if len(batch) == 0 {
		return
	}
	if dropped > 0 {
		s.log.Warn("cycle reports dropped while store was unavailable", zap.Int("dropped", dropped))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.WriteBatch(ctx, batch); err != nil {
		s.log.Error("saving cycle reports failed", zap.Int("reports", len(batch)), zap.Error(err))
		s.mu.Lock()
		s.pending = append(batch, s.pending...)
		if over := len(s.pending) - maxPending; over > 0 {
			s.pending = s.pending[over:]
			s.dropped += over
		}
		s.mu.Unlock()
		return
	}
	s.log.Debug("cycle reports saved", zap.Int("reports", len(batch)))
}

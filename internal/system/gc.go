package system

import (
	"time"

	"github.com/l1jgo/objcore/internal/core/event"
	"github.com/l1jgo/objcore/internal/core/gc"
	coresys "github.com/l1jgo/objcore/internal/core/system"
	"go.uber.org/zap"
)

// GCSystem runs a collection cycle every N ticks and publishes the outcome on
// the event bus. Phase 6 (Cleanup), so scripts never observe a half-finished
// tick.
type GCSystem struct {
	c           *gc.Collector
	bus         *event.Bus
	log         *zap.Logger
	interval    int
	tickCount   int
	emitObjects bool
}

func NewGCSystem(c *gc.Collector, bus *event.Bus, log *zap.Logger, intervalTicks int, emitObjects bool) *GCSystem {
	if intervalTicks < 1 {
		intervalTicks = 1
	}
	return &GCSystem{c: c, bus: bus, log: log, interval: intervalTicks, emitObjects: emitObjects}
}

func (s *GCSystem) Phase() coresys.Phase { return coresys.PhaseCleanup }

func (s *GCSystem) Update(_ time.Duration) {
	s.tickCount++
	if s.tickCount < s.interval {
		return
	}
	s.tickCount = 0
	s.Collect()
}

// Collect runs one cycle immediately.
func (s *GCSystem) Collect() gc.CycleReport {
	rep := s.c.Collect()
	s.publish(rep)
	return rep
}

// Quiesce runs two cycles so everything unreachable now is reclaimed.
// Called at shutdown.
func (s *GCSystem) Quiesce() {
	first := s.Collect()
	second := s.Collect()
	s.log.Info("gc quiesced",
		zap.Int("soft_killed", first.SoftKilled+second.SoftKilled),
		zap.Int("reclaimed", first.Reclaimed+second.Reclaimed),
		zap.Int("tracked", second.Tracked),
	)
}

func (s *GCSystem) publish(rep gc.CycleReport) {
	if s.bus == nil {
		return
	}
	if s.emitObjects {
		for _, k := range rep.Killed {
			event.Emit(s.bus, event.ObjectSoftKilled{Cycle: rep.Cycle, Handle: k.Handle, GUID: k.GUID, Type: k.Type, Name: k.Name})
		}
		for _, f := range rep.Freed {
			event.Emit(s.bus, event.ObjectReclaimed{Cycle: rep.Cycle, Handle: f.Handle, GUID: f.GUID, Type: f.Type, Name: f.Name})
		}
	}
	event.Emit(s.bus, event.CycleCompleted{
		Cycle:      rep.Cycle,
		Duration:   rep.Duration,
		Marked:     rep.Marked,
		SoftKilled: rep.SoftKilled,
		Reclaimed:  rep.Reclaimed,
		Purged:     rep.Purged,
		Tracked:    rep.Tracked,
	})
}

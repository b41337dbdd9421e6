package system

import (
	"time"

	coresys "github.com/l1jgo/objcore/internal/core/system"
	"github.com/l1jgo/objcore/internal/scripting"
	"go.uber.org/zap"
)

// ScriptSystem calls the scripts' on_tick hook once per tick. Phase 2 (Update).
// A failing hook is logged and the tick continues.
type ScriptSystem struct {
	engine *scripting.Engine
	log    *zap.Logger
	tick   uint64
	errors int
}

func NewScriptSystem(engine *scripting.Engine, log *zap.Logger) *ScriptSystem {
	return &ScriptSystem{engine: engine, log: log}
}

func (s *ScriptSystem) Phase() coresys.Phase { return coresys.PhaseUpdate }

func (s *ScriptSystem) Update(_ time.Duration) {
	s.tick++
	if err := s.engine.Tick(s.tick); err != nil {
		s.errors++
		s.log.Error("script tick failed", zap.Uint64("tick", s.tick), zap.Error(err))
	}
}

// Errors returns the number of failed on_tick calls.
func (s *ScriptSystem) Errors() int { return s.errors }

package system

import "time"

// Phase defines execution ordering within a single tick.
type Phase int

const (
	PhaseInput      Phase = iota // 0: external commands
	PhasePreUpdate               // 1: deliver last tick's events
	PhaseUpdate                  // 2: scripts mutate the object graph
	PhasePostUpdate              // 3: derived state
	PhaseOutput                  // 4: reports and metrics
	PhasePersist                 // 5: flush cycle reports
	PhaseCleanup                 // 6: garbage collection
)

func (p Phase) String() string {
	switch p {
	case PhaseInput:
		return "input"
	case PhasePreUpdate:
		return "pre-update"
	case PhaseUpdate:
		return "update"
	case PhasePostUpdate:
		return "post-update"
	case PhaseOutput:
		return "output"
	case PhasePersist:
		return "persist"
	case PhaseCleanup:
		return "cleanup"
	}
	return "unknown"
}

// System is the interface every tick system implements.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}

package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recorder struct {
	name  string
	phase Phase
	log   *[]string
}

func (r recorder) Phase() Phase            { return r.phase }
func (r recorder) Update(dt time.Duration) { *r.log = append(*r.log, r.name) }

func TestRunner_PhaseOrder(t *testing.T) {
	var log []string
	r := NewRunner()
	r.Register(recorder{"gc", PhaseCleanup, &log})
	r.Register(recorder{"script", PhaseUpdate, &log})
	r.Register(recorder{"events", PhasePreUpdate, &log})
	r.Register(recorder{"script2", PhaseUpdate, &log})

	r.Tick(time.Millisecond)
	assert.Equal(t, []string{"events", "script", "script2", "gc"}, log)
	assert.Equal(t, uint64(1), r.Ticks())

	log = nil
	r.TickPhase(PhaseUpdate, time.Millisecond)
	assert.Equal(t, []string{"script", "script2"}, log)
	assert.Equal(t, uint64(1), r.Ticks())
	assert.Len(t, r.Systems(), 4)
}

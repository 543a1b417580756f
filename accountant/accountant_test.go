package accountant

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/wudi/serpent/heap"
)

func TestCheckDeadline_UnlimitedNeverBreaches(t *testing.T) {
	h := heap.NewHeap()
	a := New(h, Limits{})
	defer a.Close()
	assert.NoError(t, a.CheckDeadline())
}

func TestCheckDeadline_BreachesAfterTimeout(t *testing.T) {
	h := heap.NewHeap()
	a := New(h, Limits{MaxDuration: 10 * time.Millisecond})
	defer a.Close()

	time.Sleep(30 * time.Millisecond)
	err := a.CheckDeadline()
	assert.Error(t, err)
	var breach *BreachError
	assert.ErrorAs(t, err, &breach)
	assert.Equal(t, "duration", breach.Dimension)
}

func TestCheckMemory_BreachesOverLimit(t *testing.T) {
	h := heap.NewHeap()
	h.AccountBytes(2048)
	a := New(h, Limits{MaxMemoryBytes: 1024})
	defer a.Close()

	err := a.CheckMemory()
	assert.Error(t, err)
	var breach *BreachError
	assert.ErrorAs(t, err, &breach)
	assert.Equal(t, "memory", breach.Dimension)
}

func TestCheckMemory_UnderLimitPasses(t *testing.T) {
	h := heap.NewHeap()
	h.AccountBytes(100)
	a := New(h, Limits{MaxMemoryBytes: 1024})
	defer a.Close()
	assert.NoError(t, a.CheckMemory())
}

func TestEnterExitCall_TracksDepthAndBreaches(t *testing.T) {
	h := heap.NewHeap()
	a := New(h, Limits{MaxRecursionDepth: 2})
	defer a.Close()

	assert.NoError(t, a.EnterCall())
	assert.NoError(t, a.EnterCall())
	assert.Equal(t, 2, a.Depth())

	err := a.EnterCall()
	assert.Error(t, err)
	var breach *BreachError
	assert.ErrorAs(t, err, &breach)
	assert.Equal(t, "recursion", breach.Dimension)

	a.ExitCall()
	assert.Equal(t, 1, a.Depth())
}

func TestPreCheckBitLength_RejectsOversizedProjection(t *testing.T) {
	h := heap.NewHeap()
	a := New(h, Limits{MaxMemoryBytes: 100})
	defer a.Close()

	assert.NoError(t, a.PreCheckBitLength(8)) // 1 byte, within budget
	err := a.PreCheckBitLength(100_000)       // ~12.5KB, over budget
	assert.Error(t, err)
}

func TestPreCheckRepeat_RejectsOversizedProjection(t *testing.T) {
	h := heap.NewHeap()
	a := New(h, Limits{MaxMemoryBytes: 100})
	defer a.Close()

	assert.NoError(t, a.PreCheckRepeat(5, 10)) // 50 bytes
	assert.Error(t, a.PreCheckRepeat(1000, 10))
}

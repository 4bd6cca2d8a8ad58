package vm

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfiler_HotThreshold(t *testing.T) {
	p := NewProfiler()
	p.HotThreshold = 3

	var hot []int
	p.OnHot = func(entry int, rp *RoutineProfile) {
		hot = append(hot, entry)
		assert.True(t, rp.IsHot())
	}

	assert.False(t, p.RecordInvocation(10))
	assert.False(t, p.RecordInvocation(10))
	assert.True(t, p.RecordInvocation(10))
	assert.False(t, p.RecordInvocation(10), "becomes hot only once")
	assert.False(t, p.RecordInvocation(20))

	assert.Equal(t, []int{10}, hot)
	assert.Equal(t, uint64(4), p.RoutineCount(10))
	assert.Equal(t, uint64(1), p.RoutineCount(20))
	assert.Equal(t, uint64(0), p.RoutineCount(30))
	assert.Equal(t, uint64(1), p.HotCount())
}

func TestProfiler_Snapshot(t *testing.T) {
	p := NewProfiler()
	p.HotThreshold = 2
	p.RecordInvocation(30)
	p.RecordInvocation(10)
	p.RecordInvocation(10)
	p.RecordOpcode(OpAdd)
	p.RecordOpcode(OpAdd)
	p.RecordOpcode(OpRet)

	s := p.Snapshot()
	assert.Equal(t, []RoutineSample{
		{Entry: 10, Invocations: 2, Hot: true},
		{Entry: 30, Invocations: 1},
	}, s.Routines)
	assert.Equal(t, []OpcodeSample{
		{Opcode: OpAdd, Count: 2},
		{Opcode: OpRet, Count: 1},
	}, s.Opcodes)
}

func TestProfiler_Reset(t *testing.T) {
	p := NewProfiler()
	p.HotThreshold = 1
	p.RecordInvocation(1)
	p.RecordOpcode(OpNop)
	p.Reset()

	assert.Equal(t, uint64(0), p.RoutineCount(1))
	assert.Equal(t, uint64(0), p.OpcodeCount(OpNop))
	assert.Equal(t, uint64(0), p.HotCount())
	s := p.Snapshot()
	assert.Empty(t, s.Routines)
	assert.Empty(t, s.Opcodes)
}

func TestProfiler_Concurrent(t *testing.T) {
	p := NewProfiler()
	p.HotThreshold = 500

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				p.RecordInvocation(1)
				p.RecordOpcode(OpDup)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(1000), p.RoutineCount(1))
	assert.Equal(t, uint64(1000), p.OpcodeCount(OpDup))
	require.Equal(t, uint64(1), p.HotCount())
}

func TestVM_ProfilerDisabledByDefault(t *testing.T) {
	v := New(nil, newFakeBridge(), Options{})
	assert.Nil(t, v.Profiler())
	assert.Equal(t, DefaultOptions().MaxCallDepth, v.opts.MaxCallDepth)
}

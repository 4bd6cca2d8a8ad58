package vm

import (
	"sort"
	"sync"
	"sync/atomic"
)

// RoutineProfile holds profiling data for a single routine.
type RoutineProfile struct {
	count atomic.Uint64
	hot   atomic.Bool
}

// Invocations returns the number of recorded invocations.
func (p *RoutineProfile) Invocations() uint64 { return p.count.Load() }

// IsHot reports whether the routine crossed the hot threshold.
func (p *RoutineProfile) IsHot() bool { return p.hot.Load() }

// Profiler counts routine invocations and executed opcodes. All methods are
// safe for concurrent use.
type Profiler struct {
	routines sync.Map // entry offset -> *RoutineProfile
	opcodes  [256]atomic.Uint64

	// HotThreshold is the invocation count at which a routine becomes hot.
	HotThreshold uint64

	// OnHot is called once per routine when it becomes hot.
	OnHot func(entry int, profile *RoutineProfile)

	hotCount atomic.Uint64
}

// NewProfiler creates a profiler with the default hot threshold.
func NewProfiler() *Profiler {
	return &Profiler{HotThreshold: 1000}
}

// RecordInvocation counts an invocation of the routine at entry. It returns
// true if this invocation made the routine hot.
func (p *Profiler) RecordInvocation(entry int) bool {
	val, _ := p.routines.LoadOrStore(entry, &RoutineProfile{})
	profile := val.(*RoutineProfile)

	count := profile.count.Add(1)
	if count >= p.HotThreshold && profile.hot.CompareAndSwap(false, true) {
		p.hotCount.Add(1)
		if p.OnHot != nil {
			p.OnHot(entry, profile)
		}
		return true
	}
	return false
}

// RecordOpcode counts one execution of op.
func (p *Profiler) RecordOpcode(op Opcode) {
	p.opcodes[op].Add(1)
}

// RoutineCount returns the invocation count of the routine at entry.
func (p *Profiler) RoutineCount(entry int) uint64 {
	if val, ok := p.routines.Load(entry); ok {
		return val.(*RoutineProfile).Invocations()
	}
	return 0
}

// OpcodeCount returns the execution count of op.
func (p *Profiler) OpcodeCount(op Opcode) uint64 {
	return p.opcodes[op].Load()
}

// HotCount returns the number of hot routines.
func (p *Profiler) HotCount() uint64 {
	return p.hotCount.Load()
}

// RoutineSample is one row of a profile snapshot.
type RoutineSample struct {
	Entry       int
	Invocations uint64
	Hot         bool
}

// OpcodeSample is one row of a profile snapshot.
type OpcodeSample struct {
	Opcode Opcode
	Count  uint64
}

// Snapshot is a point-in-time copy of the profiler counters.
type Snapshot struct {
	Routines []RoutineSample
	Opcodes  []OpcodeSample
}

// Snapshot copies the current counters. Routines are ordered by entry and
// only executed opcodes are included.
func (p *Profiler) Snapshot() Snapshot {
	var s Snapshot
	p.routines.Range(func(key, value any) bool {
		rp := value.(*RoutineProfile)
		s.Routines = append(s.Routines, RoutineSample{Entry: key.(int), Invocations: rp.Invocations(), Hot: rp.IsHot()})
		return true
	})
	sort.Slice(s.Routines, func(i, j int) bool { return s.Routines[i].Entry < s.Routines[j].Entry })
	for i := range p.opcodes {
		if n := p.opcodes[i].Load(); n > 0 {
			s.Opcodes = append(s.Opcodes, OpcodeSample{Opcode: Opcode(i), Count: n})
		}
	}
	return s
}

// Reset clears all counters.
func (p *Profiler) Reset() {
	p.routines.Range(func(key, _ any) bool {
		p.routines.Delete(key)
		return true
	})
	for i := range p.opcodes {
		p.opcodes[i].Store(0)
	}
	p.hotCount.Store(0)
}

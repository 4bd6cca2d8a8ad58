package vm

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("vmrt.vm")

// ---------------------------------------------------------------------------
// VM: the shared execution engine
// ---------------------------------------------------------------------------

// Options configures a VM.
type Options struct {
	// MaxCallDepth bounds nested callvm invocations.
	MaxCallDepth int
	// StackCapacity is the initial evaluation stack capacity.
	StackCapacity int
	// MaxArrayLength bounds newarr; larger lengths raise ErrOutOfMemory.
	MaxArrayLength int
	// Trace logs every executed instruction at debug level.
	Trace bool
	// Profile enables routine and opcode counters.
	Profile bool
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		MaxCallDepth:   256,
		StackCapacity:  16,
		MaxArrayLength: 1 << 24,
	}
}

// VM executes routines of one code section against one host bridge. A VM is
// safe for concurrent use: every invocation owns its interpreter state and
// only the resolution and routine caches are shared.
type VM struct {
	code     []byte
	bridge   *Resolver
	opts     Options
	profiler *Profiler

	mu       sync.Mutex
	routines map[int]*Routine
}

// New creates a VM over the code section.
func New(code []byte, bridge Bridge, opts Options) *VM {
	def := DefaultOptions()
	if opts.MaxCallDepth <= 0 {
		opts.MaxCallDepth = def.MaxCallDepth
	}
	if opts.StackCapacity <= 0 {
		opts.StackCapacity = def.StackCapacity
	}
	if opts.MaxArrayLength <= 0 {
		opts.MaxArrayLength = def.MaxArrayLength
	}
	res, ok := bridge.(*Resolver)
	if !ok {
		res = NewResolver(bridge)
	}
	v := &VM{
		code:     code,
		bridge:   res,
		opts:     opts,
		routines: make(map[int]*Routine),
	}
	if opts.Profile {
		v.profiler = NewProfiler()
		v.profiler.OnHot = func(entry int, p *RoutineProfile) {
			log.Infof("routine %04d is hot after %d invocations", entry, p.Invocations())
		}
	}
	return v
}

// Resolver returns the VM's caching bridge.
func (v *VM) Resolver() *Resolver { return v.bridge }

// Profiler returns the profiler, or nil when profiling is disabled.
func (v *VM) Profiler() *Profiler { return v.profiler }

// Code returns the code section.
func (v *VM) Code() []byte { return v.code }

// Routine returns the parsed header of the routine at entry. Headers are
// parsed once and cached.
func (v *VM) Routine(entry int) (*Routine, error) {
	v.mu.Lock()
	r, ok := v.routines[entry]
	v.mu.Unlock()
	if ok {
		return r, nil
	}

	r, err := parseRoutine(v.code, entry, v.bridge)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if prev, ok := v.routines[entry]; ok {
		return prev, nil
	}
	v.routines[entry] = r
	return r, nil
}

// Invoke runs the routine at entry with args. By-ref parameters bound to
// plain values in args are written back into args. A void routine returns
// Void. A *Fault error is an exception that no handler caught; any other
// error is fatal.
func (v *VM) Invoke(args []Value, entry int) (Value, error) {
	var id string
	if log.AllowLevel(commonlog.Debug) {
		id = uuid.NewString()
		log.Debugf("invoke %s: entry=%04d args=%d", id, entry, len(args))
	}

	res, err := v.invoke(args, entry, 0)
	switch {
	case err == nil:
		if id != "" {
			log.Debugf("invoke %s: returned %s", id, res)
		}
	case IsFatal(err):
		log.Errorf("invoke entry=%04d: %s", entry, err.Error())
	default:
		if id != "" {
			log.Debugf("invoke %s: unhandled %s", id, err.Error())
		}
	}
	return res, err
}

func (v *VM) invoke(args []Value, entry, depth int) (Value, error) {
	if depth >= v.opts.MaxCallDepth {
		return Void, fmt.Errorf("%w: %d nested invocations at entry %04d", ErrCallDepth, depth, entry)
	}
	r, err := v.Routine(entry)
	if err != nil {
		return Void, err
	}
	if v.profiler != nil {
		v.profiler.RecordInvocation(entry)
	}
	return newInterpreter(v, r, args, depth).Run()
}

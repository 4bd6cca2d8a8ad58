package vm

import (
	"fmt"
	"slices"
)

// HandlerKind is the kind of an exception handler. The numeric values are
// part of the routine header encoding.
type HandlerKind uint8

const (
	HandlerCatch   HandlerKind = 0
	HandlerFilter  HandlerKind = 1
	HandlerFinally HandlerKind = 2
	HandlerFault   HandlerKind = 4
)

func (k HandlerKind) String() string {
	switch k {
	case HandlerCatch:
		return "catch"
	case HandlerFilter:
		return "filter"
	case HandlerFinally:
		return "finally"
	case HandlerFault:
		return "fault"
	}
	return fmt.Sprintf("handler(%d)", uint8(k))
}

// Handler is one handler attached to a protected region. CatchType is the
// type token of a catch handler; Filter is the filter code offset.
type Handler struct {
	Kind      HandlerKind
	Offset    int
	Filter    int
	CatchType int32
}

// TryRegion is a protected range [Begin, End) and its handlers in
// declaration order.
type TryRegion struct {
	Begin    int
	End      int
	Handlers []Handler
}

func (r *TryRegion) contains(offset int) bool {
	return offset >= r.Begin && offset < r.End
}

// RegionTable is a routine's protected regions ordered by Begin ascending and
// End descending, so an enclosing region precedes the regions nested in it.
type RegionTable struct {
	regions []*TryRegion
}

// Add records a handler for [begin, end). Handlers sharing a range join the
// same region.
func (t *RegionTable) Add(begin, end int, h Handler) error {
	switch h.Kind {
	case HandlerCatch, HandlerFilter, HandlerFinally, HandlerFault:
	default:
		return fmt.Errorf("%w: handler kind %d", ErrBadBytecode, h.Kind)
	}
	if begin < 0 || begin >= end {
		return fmt.Errorf("%w: try region %04d-%04d", ErrBadBytecode, begin, end)
	}

	i, found := slices.BinarySearchFunc(t.regions, [2]int{begin, end}, func(r *TryRegion, key [2]int) int {
		switch {
		case r.Begin != key[0]:
			return r.Begin - key[0]
		case r.End != key[1]:
			return key[1] - r.End
		}
		return 0
	})
	if found {
		t.regions[i].Handlers = append(t.regions[i].Handlers, h)
		return nil
	}
	t.regions = slices.Insert(t.regions, i, &TryRegion{Begin: begin, End: end, Handlers: []Handler{h}})
	return nil
}

// Validate checks that regions are properly nested.
func (t *RegionTable) Validate() error {
	for i, outer := range t.regions {
		for _, inner := range t.regions[i+1:] {
			if inner.Begin >= outer.End {
				continue
			}
			if inner.End > outer.End {
				return fmt.Errorf("%w: try regions %04d-%04d and %04d-%04d overlap",
					ErrBadBytecode, outer.Begin, outer.End, inner.Begin, inner.End)
			}
		}
	}
	return nil
}

// Starting returns the regions beginning at offset, outermost first.
func (t *RegionTable) Starting(offset int) []*TryRegion {
	var out []*TryRegion
	for _, r := range t.regions {
		if r.Begin == offset {
			out = append(out, r)
		}
	}
	return out
}

// Regions returns all regions in table order.
func (t *RegionTable) Regions() []*TryRegion {
	return t.regions
}

// Len returns the number of distinct regions.
func (t *RegionTable) Len() int {
	return len(t.regions)
}

// ---------------------------------------------------------------------------
// Routine header
// ---------------------------------------------------------------------------

type rawHandler struct {
	kind                       HandlerKind
	begin, end, handler, extra int32
}

type rawHeader struct {
	params   []ParamSpec
	locals   []int32
	ret      int32
	handlers []rawHandler
}

// readHeader decodes a routine header at the cursor. Truncated input panics.
func readHeader(c *Cursor) rawHeader {
	var h rawHeader
	h.params = make([]ParamSpec, c.ReadU16())
	for i := range h.params {
		flags := c.ReadU8()
		h.params[i] = ParamSpec{ByRef: flags&paramByRef != 0, Type: c.ReadI32()}
	}
	h.locals = make([]int32, c.ReadU16())
	for i := range h.locals {
		h.locals[i] = c.ReadI32()
	}
	h.ret = c.ReadI32()
	h.handlers = make([]rawHandler, c.ReadU16())
	for i := range h.handlers {
		h.handlers[i] = rawHandler{
			kind:    HandlerKind(c.ReadU8()),
			begin:   c.ReadI32(),
			end:     c.ReadI32(),
			handler: c.ReadI32(),
			extra:   c.ReadI32(),
		}
	}
	return h
}

// Routine is a parsed routine header. Routines are immutable once parsed and
// shared by every invocation.
type Routine struct {
	Entry   int
	Params  []Param
	Locals  []Type
	Return  Type
	Regions *RegionTable
	Code    int
}

func parseRoutine(code []byte, entry int, res *Resolver) (r *Routine, err error) {
	defer func() {
		if p := recover(); p != nil {
			r, err = nil, fmt.Errorf("%w: truncated routine header at %04d", ErrBadBytecode, entry)
		}
	}()
	if entry < 0 || entry >= len(code) {
		return nil, fmt.Errorf("%w: entry %04d outside code section", ErrBadBytecode, entry)
	}

	c := NewCursor(code, 0)
	c.Seek(entry)
	h := readHeader(c)

	resolve := func(token int32) (Type, error) {
		if token == 0 {
			return nil, nil
		}
		t, err := res.ResolveType(token)
		if err != nil {
			return nil, fmt.Errorf("%w: routine %04d: type %#08x: %v", ErrBadBytecode, entry, uint32(token), err)
		}
		return t, nil
	}

	r = &Routine{Entry: entry, Regions: &RegionTable{}, Code: c.Pos()}
	for _, p := range h.params {
		t, err := resolve(p.Type)
		if err != nil {
			return nil, err
		}
		r.Params = append(r.Params, Param{Type: t, ByRef: p.ByRef})
	}
	for _, l := range h.locals {
		t, err := resolve(l)
		if err != nil {
			return nil, err
		}
		r.Locals = append(r.Locals, t)
	}
	if r.Return, err = resolve(h.ret); err != nil {
		return nil, err
	}
	for _, rh := range h.handlers {
		hd := Handler{Kind: rh.kind, Offset: int(rh.handler)}
		switch rh.kind {
		case HandlerCatch:
			hd.CatchType = rh.extra
		case HandlerFilter:
			hd.Filter = int(rh.extra)
		}
		if err := r.Regions.Add(int(rh.begin), int(rh.end), hd); err != nil {
			return nil, fmt.Errorf("routine %04d: %w", entry, err)
		}
	}
	if err := r.Regions.Validate(); err != nil {
		return nil, fmt.Errorf("routine %04d: %w", entry, err)
	}
	return r, nil
}

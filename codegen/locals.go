package codegen

import (
	"fmt"

	"github.com/chazu/classgen/ast"
	"github.com/chazu/classgen/classfile"
)

// ---------------------------------------------------------------------------
// Local variable allocator
// ---------------------------------------------------------------------------

// local is one entry of the allocator's arena. Identity is the arena
// index: a slot may be reused by a later local once its scope closes.
type local struct {
	name      string
	typ       ast.Type
	slot      int
	scope     int
	start     *classfile.Label
	synthetic bool
	bound     bool // placed by Bind, not owned by a scope
}

type scopeRec struct {
	parent int
	locals []int // arena indices declared directly in the scope
}

// allocator assigns slots to locals. Scopes and locals live in flat
// arenas referenced by index. Free slots are reused lowest first; a wide
// local takes the lowest free pair, or the topmost free slot plus one new
// slot, before the frame grows.
type allocator struct {
	locals []local
	scopes []scopeRec
	open   []int // open scopes, innermost last
	live   []int // live locals in declaration order

	used     []bool // per slot
	reserved []bool // per slot, never handed out
	next     int    // first slot never handed out
	max      int
}

func newAllocator() *allocator {
	return &allocator{}
}

// Reserve marks slots [0,n) as occupied for the receiver and parameters.
func (a *allocator) Reserve(n int) {
	for a.next < n {
		a.grow()
	}
	for i := 0; i < n; i++ {
		a.used[i] = true
		a.reserved[i] = true
	}
}

// ReserveSlot marks one externally owned slot as occupied.
func (a *allocator) ReserveSlot(slot int) {
	for a.next <= slot {
		a.grow()
	}
	a.used[slot] = true
	a.reserved[slot] = true
}

func (a *allocator) grow() {
	a.used = append(a.used, false)
	a.reserved = append(a.reserved, false)
	a.next++
	a.max = max(a.max, a.next)
}

// EnterScope opens a nested scope and returns its index.
func (a *allocator) EnterScope() int {
	parent := -1
	if len(a.open) > 0 {
		parent = a.open[len(a.open)-1]
	}
	a.scopes = append(a.scopes, scopeRec{parent: parent})
	id := len(a.scopes) - 1
	a.open = append(a.open, id)
	return id
}

// ExitScope closes the innermost scope and returns the locals it owned.
// Their slots return to the free pool.
func (a *allocator) ExitScope() []local {
	if len(a.open) == 0 {
		return nil
	}
	id := a.open[len(a.open)-1]
	a.open = a.open[:len(a.open)-1]
	owned := a.scopes[id].locals
	freed := make([]local, 0, len(owned))
	for _, idx := range owned {
		l := a.locals[idx]
		for s := l.slot; s < l.slot+l.typ.Size(); s++ {
			a.used[s] = false
		}
		freed = append(freed, l)
	}
	keep := a.live[:0]
	for _, idx := range a.live {
		if a.locals[idx].scope != id {
			keep = append(keep, idx)
		}
	}
	a.live = keep
	return freed
}

// Depth returns the number of open scopes.
func (a *allocator) Depth() int { return len(a.open) }

// pick returns the slot a local of the given width would receive.
func (a *allocator) pick(width int) int {
	for s := 0; s < a.next; s++ {
		if a.used[s] {
			continue
		}
		if width == 1 {
			return s
		}
		if s+1 < a.next && !a.used[s+1] {
			return s
		}
		if s+1 == a.next {
			return s
		}
	}
	return a.next
}

// Declare allocates a slot for name in the innermost scope.
func (a *allocator) Declare(name string, t ast.Type, synthetic bool) (local, error) {
	if len(a.open) == 0 {
		return local{}, fmt.Errorf("%w: no open scope for %q", ErrSlotConflict, name)
	}
	width := t.Size()
	if width == 0 {
		return local{}, fmt.Errorf("%w: local %q has type void", ErrTypeMismatch, name)
	}
	slot := a.pick(width)
	for a.next < slot+width {
		a.grow()
	}
	for s := slot; s < slot+width; s++ {
		if a.used[s] {
			return local{}, fmt.Errorf("%w: slot %d", ErrSlotConflict, s)
		}
		a.used[s] = true
	}
	scope := a.open[len(a.open)-1]
	l := local{name: name, typ: t, slot: slot, scope: scope, synthetic: synthetic}
	a.locals = append(a.locals, l)
	idx := len(a.locals) - 1
	a.scopes[scope].locals = append(a.scopes[scope].locals, idx)
	a.live = append(a.live, idx)
	return l, nil
}

// Bind registers a named local at a fixed, already reserved slot. Used
// for the receiver, parameters and fragment bindings.
func (a *allocator) Bind(name string, t ast.Type, slot int) local {
	scope := -1
	if len(a.open) > 0 {
		scope = a.open[len(a.open)-1]
	}
	l := local{name: name, typ: t, slot: slot, scope: scope, bound: true}
	a.locals = append(a.locals, l)
	a.live = append(a.live, len(a.locals)-1)
	return l
}

// SetStart records where a local's live range begins.
func (a *allocator) SetStart(slot int, start *classfile.Label) {
	for i := len(a.live) - 1; i >= 0; i-- {
		l := &a.locals[a.live[i]]
		if l.slot == slot {
			l.start = start
			return
		}
	}
}

// Lookup finds the innermost live local named name.
func (a *allocator) Lookup(name string) (local, bool) {
	for i := len(a.live) - 1; i >= 0; i-- {
		l := a.locals[a.live[i]]
		if l.name == name && !l.synthetic {
			return l, true
		}
	}
	return local{}, false
}

// Live returns the live locals in declaration order.
func (a *allocator) Live() []local {
	out := make([]local, len(a.live))
	for i, idx := range a.live {
		out[i] = a.locals[idx]
	}
	return out
}

// Max returns the number of slots the method needs.
func (a *allocator) Max() int { return a.max }

package codegen

import (
	"errors"
	"testing"

	"github.com/chazu/classgen/ast"
)

func declare(t *testing.T, a *allocator, name string, typ ast.Type) int {
	t.Helper()
	l, err := a.Declare(name, typ, false)
	if err != nil {
		t.Fatalf("Declare(%s): %v", name, err)
	}
	return l.slot
}

func TestAllocatorReusesLowestSlot(t *testing.T) {
	a := newAllocator()
	a.EnterScope()
	a.Reserve(1)

	a.EnterScope()
	if got := declare(t, a, "x", ast.Int); got != 1 {
		t.Errorf("x slot = %d, want 1", got)
	}
	if got := declare(t, a, "y", ast.Int); got != 2 {
		t.Errorf("y slot = %d, want 2", got)
	}
	a.ExitScope()

	a.EnterScope()
	if got := declare(t, a, "z", ast.Int); got != 1 {
		t.Errorf("z slot = %d, want 1 after the sibling scope closed", got)
	}
	a.ExitScope()

	if a.Max() != 3 {
		t.Errorf("Max = %d, want 3", a.Max())
	}
	if _, ok := a.Lookup("x"); ok {
		t.Error("x still visible after its scope closed")
	}
}

func TestAllocatorWideLocals(t *testing.T) {
	a := newAllocator()
	a.EnterScope()
	a.Reserve(1)

	a.EnterScope()
	declare(t, a, "i", ast.Int) // 1
	declare(t, a, "j", ast.Int) // 2
	declare(t, a, "k", ast.Int) // 3
	a.ExitScope()

	a.EnterScope()
	declare(t, a, "n", ast.Int) // 1
	if got := declare(t, a, "d", ast.Double); got != 2 {
		t.Errorf("d slot = %d, want 2", got)
	}
	if got := declare(t, a, "l", ast.Long); got != 4 {
		t.Errorf("l slot = %d, want 4", got)
	}
	if a.Max() != 6 {
		t.Errorf("Max = %d, want 6", a.Max())
	}
}

func TestAllocatorShadowing(t *testing.T) {
	a := newAllocator()
	a.EnterScope()
	declare(t, a, "v", ast.Int)
	a.EnterScope()
	inner := declare(t, a, "v", ast.String)
	l, ok := a.Lookup("v")
	if !ok || l.slot != inner || l.typ != ast.String {
		t.Errorf("Lookup(v) = %+v, want the inner String at %d", l, inner)
	}
	a.ExitScope()
	l, _ = a.Lookup("v")
	if l.typ != ast.Int {
		t.Errorf("Lookup(v) after exit = %v, want int", l.typ)
	}
}

func TestAllocatorErrors(t *testing.T) {
	a := newAllocator()
	if _, err := a.Declare("x", ast.Int, false); !errors.Is(err, ErrSlotConflict) {
		t.Errorf("no scope: got %v, want ErrSlotConflict", err)
	}
	a.EnterScope()
	if _, err := a.Declare("v", ast.Void, false); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("void local: got %v, want ErrTypeMismatch", err)
	}
}

package exec

import (
	"errors"
	"strings"
	"testing"

	"github.com/chazu/slotvm/pkg/bytecode"
)

func TestScopeLookupFallsThrough(t *testing.T) {
	s := NewScopeStack()
	s.Bind(60, Number(1))
	s.Push()
	s.Bind(61, Number(2))

	if v, err := s.Lookup(60); err != nil || v != Number(1) {
		t.Errorf("outer value from inner scope = %#v, %v", v, err)
	}

	if err := s.Pop(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Lookup(61); !errors.Is(err, bytecode.ErrUnknownID) {
		t.Errorf("popped value lookup = %v, want UnknownId", err)
	}
	if _, err := s.Lookup(60); err != nil {
		t.Errorf("outer value lost after pop: %v", err)
	}
}

func TestScopeSetUpdatesHolder(t *testing.T) {
	s := NewScopeStack()
	s.Bind(60, Number(1))
	s.Push()
	s.Set(60, Number(5))
	s.Set(61, Number(6))
	if err := s.Pop(); err != nil {
		t.Fatal(err)
	}

	if v, _ := s.Lookup(60); v != Number(5) {
		t.Errorf("write through inner scope = %#v, want 5", v)
	}
	if s.Bound(61) {
		t.Error("new binding made in inner scope should vanish with it")
	}
}

func TestScopeBindShadows(t *testing.T) {
	s := NewScopeStack()
	s.Bind(60, Number(1))
	s.Push()
	s.Bind(60, Empty())
	if v, _ := s.Lookup(60); v.Kind() != KindEmpty {
		t.Errorf("inner allocation should shadow, got %#v", v)
	}
	s.Pop()
	if v, _ := s.Lookup(60); v != Number(1) {
		t.Errorf("outer binding = %#v after pop", v)
	}
}

func TestScopeDelete(t *testing.T) {
	s := NewScopeStack()
	s.Bind(60, Number(1))
	s.Push()

	if err := s.Delete(60); err != nil {
		t.Fatalf("delete from outer scope failed: %v", err)
	}
	if err := s.Delete(60); !errors.Is(err, bytecode.ErrDoubleRelease) {
		t.Errorf("second delete = %v, want DoubleRelease", err)
	}
	if err := s.Delete(99); !errors.Is(err, bytecode.ErrUnknownID) {
		t.Errorf("delete unbound = %v, want UnknownId", err)
	}

	s.Bind(60, Number(2))
	if err := s.Delete(60); err != nil {
		t.Errorf("delete after rebinding failed: %v", err)
	}
}

func TestScopePopOutermost(t *testing.T) {
	s := NewScopeStack()
	if err := s.Pop(); !errors.Is(err, bytecode.ErrProgramMalformed) {
		t.Errorf("Pop of outermost = %v, want ProgramMalformed", err)
	}
	if s.Depth() != 1 {
		t.Errorf("Depth = %d, want 1", s.Depth())
	}
}

func TestScopeDump(t *testing.T) {
	s := NewScopeStack()
	s.Bind(60, Number(4422))
	s.Push()
	s.Bind(61, Text("hi"))

	out := s.Dump()
	for _, want := range []string{"$60", "4422", "$61", `"hi"`, "text"} {
		if !strings.Contains(out, want) {
			t.Errorf("dump missing %q:\n%s", want, out)
		}
	}
}

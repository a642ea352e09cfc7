package fusion

import "testing"

func TestBuffer_RetainRelease(t *testing.T) {
	released := false
	buf := NewBuffer("test", 42, 4, func(int) { released = true })

	buf.Retain()
	buf.Release()
	if released {
		t.Fatalf("release fired with one owner still outstanding")
	}

	buf.Release()
	if !released {
		t.Fatalf("release did not fire when last owner dropped")
	}
}

func TestBuffer_Set(t *testing.T) {
	var releasedValue int
	buf := NewBuffer("test", 1, 4, func(v int) { releasedValue = v })

	buf.Set(2, func(v int) { releasedValue = v })
	if releasedValue != 1 {
		t.Fatalf("expected previous payload 1 released, got %d", releasedValue)
	}
	if buf.Payload() != 2 {
		t.Fatalf("expected payload 2, got %d", buf.Payload())
	}
}

func TestBuffer_CloneIndependentLifetime(t *testing.T) {
	buf := NewBuffer("test", []int{1, 2, 3}, 0, nil)
	clone := buf.Clone(func(v []int) []int {
		out := make([]int, len(v))
		copy(out, v)
		return out
	})

	clone.Payload()[0] = 99
	if buf.Payload()[0] == 99 {
		t.Fatalf("clone shared backing storage with source")
	}

	clone.Retain()
	clone.Release()
	clone.Release()
}

func TestMeta_SetGetErase(t *testing.T) {
	m := newMetadata()

	if ContainsMeta[int](m) {
		t.Fatalf("empty metadata reports a slot present")
	}

	SetMeta(m, 7)
	v, ok := GetMeta[int](m)
	if !ok || v != 7 {
		t.Fatalf("expected (7, true), got (%d, %v)", v, ok)
	}

	SetMeta(m, "str")
	if v, ok := GetMeta[int](m); !ok || v != 7 {
		t.Fatalf("int slot changed by setting a different type's slot, got (%d, %v)", v, ok)
	}
	sv, ok := GetMeta[string](m)
	if !ok || sv != "str" {
		t.Fatalf("expected (\"str\", true), got (%q, %v)", sv, ok)
	}

	EraseMeta[string](m)
	if ContainsMeta[string](m) {
		t.Fatalf("slot still present after EraseMeta")
	}
}

func TestMeta_CloneIsIndependent(t *testing.T) {
	m := newMetadata()
	SetMeta(m, 1)

	clone := m.clone()
	SetMeta(clone, 2)

	v, _ := GetMeta[int](m)
	if v != 1 {
		t.Fatalf("mutating clone affected source metadata, got %d", v)
	}
}

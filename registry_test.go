package fusion

import "testing"

func TestRegistry_RegisterAndLookup(t *testing.T) {
	RegisterNodeClass("test.registry.echo", func(int) NodeInterface { return noopNode{} })

	ctor, ok := LookupNodeClass("test.registry.echo")
	if !ok {
		t.Fatalf("expected registered class to be found")
	}
	if _, ok := ctor(1).(noopNode); !ok {
		t.Fatalf("constructor did not return the registered implementation")
	}
}

func TestRegistry_UnknownClass(t *testing.T) {
	if _, ok := LookupNodeClass("test.registry.nonexistent"); ok {
		t.Fatalf("expected unregistered class to be absent")
	}
}

func TestClassNameFromPath(t *testing.T) {
	cases := map[string]string{
		"kafkasource.so":      "Kafkasource",
		"/a/b/redisEvents.so": "RedisEvents",
	}
	for path, want := range cases {
		if got := classNameFromPath(path); got != want {
			t.Fatalf("classNameFromPath(%q) = %q, want %q", path, got, want)
		}
	}
}

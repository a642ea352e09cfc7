package fusion

import "testing"

func TestParseConfigString(t *testing.T) {
	got := parseConfigString("Source=/dev/video0 Width=1920 Height=1080")
	want := map[string]string{"Source": "/dev/video0", "Width": "1920", "Height": "1080"}

	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %d: %v", len(want), len(got), got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("key %q: expected %q, got %q", k, v, got[k])
		}
	}
}

func TestParseConfigString_IgnoresMalformedFields(t *testing.T) {
	got := parseConfigString("Good=1 malformed Another=2")
	if len(got) != 2 {
		t.Fatalf("expected 2 well-formed entries, got %d: %v", len(got), got)
	}
}

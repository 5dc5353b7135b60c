package ai

import (
	"strings"
	"testing"
)

func TestSanitizeToolName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"get_weather", "get_weather"},
		{"get weather", "get_weather"},
		{"search.web!", "search_web"},
		{"Tool-42", "Tool-42"},
	}
	for _, tc := range cases {
		if got := SanitizeToolName(tc.in); got != tc.want {
			t.Errorf("SanitizeToolName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSanitizeToolNameTruncates(t *testing.T) {
	long := strings.Repeat("a", 100)
	got := SanitizeToolName(long)
	if len(got) != 64 {
		t.Errorf("len = %d, want 64", len(got))
	}
}

func TestSanitizeToolNameEmptyGetsFallback(t *testing.T) {
	for _, in := range []string{"", "!!!", "日本語"} {
		got := SanitizeToolName(in)
		if !strings.HasPrefix(got, "tool_") || len(got) <= len("tool_") {
			t.Errorf("SanitizeToolName(%q) = %q, want generated tool_ fallback", in, got)
		}
	}
}

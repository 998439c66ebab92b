package common

import "testing"

func TestCleanPath(t *testing.T) {
	cases := map[string]string{
		"":          "/fallback",
		"/":         "/fallback",
		"  ":        "/fallback",
		"mcp":       "/mcp",
		"/mcp/":     "/mcp",
		"api/v1/":   "/api/v1",
		" /metrics": "/metrics",
	}
	for in, want := range cases {
		if got := CleanPath(in, "/fallback"); got != want {
			t.Fatalf("CleanPath(%q) = %q, want %q", in, got, want)
		}
	}
}

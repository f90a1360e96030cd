package prompt

import (
	"strings"
	"testing"
)

func TestNonce(t *testing.T) {
	a, err := Nonce()
	if err != nil {
		t.Fatalf("Nonce() = %v", err)
	}
	if len(a) != 32 {
		t.Errorf("nonce length = %d, want 32 hex chars", len(a))
	}
	b, err := Nonce()
	if err != nil {
		t.Fatalf("Nonce() = %v", err)
	}
	if a == b {
		t.Error("two nonces should not collide")
	}
}

func TestSanitizeDelimiters(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain text", "plain text"},
		{"===SECTION===", "--SECTION--"},
		{"a == b", "a == b"},
		{"==========", "--"},
	}
	for _, tt := range tests {
		if got := SanitizeDelimiters(tt.in); got != tt.want {
			t.Errorf("SanitizeDelimiters(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"no fences", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"surrounding whitespace", "  ```json\n{}\n```  ", "{}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripCodeFences(tt.in); got != tt.want {
				t.Errorf("StripCodeFences(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("Truncate() = %q", got)
	}
	got := Truncate(strings.Repeat("x", 50), 10)
	if got != strings.Repeat("x", 10)+"..." {
		t.Errorf("Truncate() = %q", got)
	}
}

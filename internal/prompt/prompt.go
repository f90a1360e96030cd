// Package prompt holds the shared hardening helpers for LLM prompts:
// random delimiter nonces, delimiter sanitization for embedded content,
// and cleanup of fenced model output.
package prompt

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// Nonce returns a random 16-byte hex string for prompt delimiters.
// 128 bits of entropy prevents brute-force prediction of delimiter
// boundaries by adversarial content.
func Nonce() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

// delimiterRe matches sequences of 3+ consecutive '=' characters, which
// could resemble the nonce-based ===SECTION_xxx=== delimiters.
var delimiterRe = regexp.MustCompile(`={3,}`)

// SanitizeDelimiters replaces runs of 3+ '=' with '--' so embedded content
// cannot mimic prompt section boundaries. The nonce is the primary
// protection; this is defense-in-depth.
func SanitizeDelimiters(s string) string {
	return delimiterRe.ReplaceAllString(s, "--")
}

// StripCodeFences removes ```json ... ``` wrapping from LLM output.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx != -1 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	return s
}

// Truncate shortens s to at most n bytes for inclusion in error messages.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

package refresh

import (
	"errors"
	"strings"
	"testing"
)

func TestNewParseRoundTrip(t *testing.T) {
	token, hash, err := New()
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if len(token) != 43 {
		t.Fatalf("expected 43 base64url chars, got %d", len(token))
	}
	if strings.ContainsAny(token, "+/=") {
		t.Fatalf("token is not unpadded base64url: %s", token)
	}

	parsed, err := Parse(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != hash {
		t.Fatal("parsed hash differs from issued hash")
	}
	if len(hash.String()) != 64 {
		t.Fatalf("expected 64 hex chars, got %q", hash.String())
	}
}

func TestNewIsUnique(t *testing.T) {
	seen := make(map[string]struct{}, 100)
	for i := 0; i < 100; i++ {
		token, _, err := New()
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		if _, dup := seen[token]; dup {
			t.Fatal("duplicate token generated")
		}
		seen[token] = struct{}{}
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, input := range []string{
		"",
		"abc",
		strings.Repeat("!", 43),
		strings.Repeat("A", 44),
		strings.Repeat("A", 42) + "=",
	} {
		if _, err := Parse(input); !errors.Is(err, ErrMalformed) {
			t.Fatalf("%q: expected ErrMalformed, got %v", input, err)
		}
	}
}

// FuzzParse checks that arbitrary input never panics and that anything accepted hashes
// deterministically.
func FuzzParse(f *testing.F) {
	token, _, err := New()
	if err == nil {
		f.Add(token)
	}
	f.Add("")
	f.Add("!!!not-base64!!!")
	f.Add(strings.Repeat("A", 43))

	f.Fuzz(func(t *testing.T, input string) {
		h1, err := Parse(input)
		if err != nil {
			return
		}
		h2, err := Parse(input)
		if err != nil || h1 != h2 {
			t.Fatal("Parse is not deterministic")
		}
	})
}

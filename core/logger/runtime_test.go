package logger

import (
	"errors"
	"strings"
	"testing"
)

func TestSanitizeLimit(t *testing.T) {
	if got := Sanitize("a\x00b\u200bc\td"); got != "abc\td" {
		t.Fatalf("Sanitize = %q", got)
	}
	if got := SanitizeLimit("привет", 3); got != "при" {
		t.Fatalf("SanitizeLimit = %q", got)
	}
	if got := SanitizeLimit("x", 0); got != "" {
		t.Fatalf("SanitizeLimit zero = %q", got)
	}
}

func TestErrText(t *testing.T) {
	if ErrText(nil) != "" {
		t.Fatal("nil error should be empty")
	}
	long := errors.New(strings.Repeat("e", 300))
	if got := ErrText(long); len(got) != 256 {
		t.Fatalf("ErrText len = %d", len(got))
	}
}

func TestRatioSampler(t *testing.T) {
	s := newRatioSampler(1, 4)
	allowed := 0
	for range 8 {
		if s.Allow() {
			allowed++
		}
	}
	if allowed != 2 {
		t.Fatalf("allowed %d of 8, want 2", allowed)
	}
	s.Set(0, 0)
	if !s.Allow() {
		t.Fatal("disabled sampler must allow")
	}
}

func TestParseRatioSpec(t *testing.T) {
	cases := map[string][2]int{
		"":     {0, 0},
		"1/10": {1, 10},
		"5":    {1, 5},
		"x/y":  {0, 0},
		"-3":   {0, 0},
	}
	for in, want := range cases {
		n, d := parseRatioSpec(in)
		if n != want[0] || d != want[1] {
			t.Fatalf("parseRatioSpec(%q) = %d/%d, want %d/%d", in, n, d, want[0], want[1])
		}
	}
}

func TestBuildRID(t *testing.T) {
	if got := BuildRID(1, 2, 3); got != "1:2:3" {
		t.Fatalf("BuildRID = %q", got)
	}
}

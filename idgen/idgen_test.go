package idgen

import (
	"strings"
	"testing"
)

func TestNanoIDLength(t *testing.T) {
	gen := NanoID(12)
	for range 100 {
		id := gen()
		if len(id) != 12 {
			t.Fatalf("expected length 12, got %d (%q)", len(id), id)
		}
	}
}

func TestNanoIDUnique(t *testing.T) {
	gen := NanoID(16)
	seen := make(map[string]bool)
	for range 1000 {
		id := gen()
		if seen[id] {
			t.Fatalf("duplicate ID %q", id)
		}
		seen[id] = true
	}
}

func TestUUIDv7Sortable(t *testing.T) {
	gen := UUIDv7()
	a := gen()
	b := gen()
	if a >= b {
		t.Fatalf("expected time-sorted IDs, got %q then %q", a, b)
	}
}

func TestPrefixed(t *testing.T) {
	gen := Prefixed("run_", NanoID(8))
	id := gen()
	if !strings.HasPrefix(id, "run_") {
		t.Fatalf("expected run_ prefix, got %q", id)
	}
	if len(id) != 12 {
		t.Fatalf("expected 12 chars, got %q", id)
	}
}

func TestTimestamped(t *testing.T) {
	gen := Timestamped(NanoID(4))
	id := gen()
	parts := strings.SplitN(id, "_", 2)
	if len(parts) != 2 || len(parts[0]) != 16 {
		t.Fatalf("unexpected format %q", id)
	}
}

// Package sha256 includes tests for the digest helpers.
package sha256

import "testing"

const helloDigest = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

// TestHexDeterministic ensures repeated hashing yields the same digest.
func TestHexDeterministic(t *testing.T) {
	t.Parallel()

	got := Hex([]byte("hello world"))
	if got != helloDigest {
		t.Fatalf("expected %s, got %s", helloDigest, got)
	}
	if again := Hex([]byte("hello world")); again != got {
		t.Fatalf("expected deterministic hash, got %s vs %s", got, again)
	}
}

// TestShort checks truncation and the out-of-range fallback.
func TestShort(t *testing.T) {
	t.Parallel()

	if got := Short([]byte("hello world"), 16); got != helloDigest[:16] {
		t.Fatalf("expected %s, got %s", helloDigest[:16], got)
	}
	for _, n := range []int{0, -1, 64, 100} {
		if got := Short([]byte("hello world"), n); got != helloDigest {
			t.Fatalf("Short(n=%d) = %s, want full digest", n, got)
		}
	}
}

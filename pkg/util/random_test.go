package utils

import "testing"

func TestRandomNonZeroInt32SkipsTakenIds(t *testing.T) {
	seen := map[int32]bool{}
	for i := 0; i < 1000; i++ {
		id := RandomNonZeroInt32(func(candidate int32) bool {
			return seen[candidate]
		})
		if id == 0 {
			t.Fatalf("generated zero id")
		}
		if seen[id] {
			t.Fatalf("generated id %d twice", id)
		}
		seen[id] = true
	}
}

func TestRandomNonZeroInt32Retries(t *testing.T) {
	rejected := 0
	id := RandomNonZeroInt32(func(candidate int32) bool {
		if rejected < 3 {
			rejected++
			return true
		}
		return false
	})
	if rejected != 3 {
		t.Fatalf("expected 3 rejected candidates, got %d", rejected)
	}
	if id == 0 {
		t.Fatalf("generated zero id")
	}
}

func TestContains(t *testing.T) {
	hosts := []string{"https://a.example", "https://b.example"}
	if !Contains("https://b.example", hosts) {
		t.Fatalf("expected host to be found")
	}
	if Contains("https://c.example", hosts) {
		t.Fatalf("unexpected match")
	}
	if Contains("x", nil) {
		t.Fatalf("nil list must not match")
	}
}

package idempotency

import "testing"

type sample struct {
	B string `json:"b"`
	A int    `json:"a"`
}

func TestContentHashIsOrderIndependent(t *testing.T) {
	h1, err := ContentHash(sample{A: 1, B: "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	h2, err := ContentHash(map[string]interface{}{"b": "x", "a": 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h3, err := ContentHash(map[string]interface{}{"a": 1, "b": "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if h1 != h2 || h2 != h3 {
		t.Errorf("expected matching content to hash identically regardless of field order: %q %q %q", h1, h2, h3)
	}
}

func TestContentHashDistinguishesDifferentContent(t *testing.T) {
	h1, _ := ContentHash(map[string]interface{}{"a": 1})
	h2, _ := ContentHash(map[string]interface{}{"a": 2})
	if h1 == h2 {
		t.Error("different content hashed identically")
	}
}

func TestContentHashIsStableAcrossNestedStructures(t *testing.T) {
	v1 := map[string]interface{}{
		"outer": map[string]interface{}{"z": 1, "y": 2},
		"list":  []interface{}{1, 2, 3},
	}
	v2 := map[string]interface{}{
		"list":  []interface{}{1, 2, 3},
		"outer": map[string]interface{}{"y": 2, "z": 1},
	}

	h1, err := ContentHash(v1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h2, err := ContentHash(v2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h1 != h2 {
		t.Errorf("nested map key order should not affect the hash: %q != %q", h1, h2)
	}
}

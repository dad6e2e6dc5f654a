package storage

import (
	"slices"
	"testing"
)

func TestRadixPersistence(t *testing.T) {
	var r0 *radix[string]
	r1 := r0.set(3, "c")
	r2 := r1.set(1, "a").set(70000, "z")
	r3 := r2.delete(3)

	if r0.len() != 0 || r1.len() != 1 || r2.len() != 3 || r3.len() != 2 {
		t.Fatalf("unexpected lengths: %d %d %d %d", r0.len(), r1.len(), r2.len(), r3.len())
	}
	if v, ok := r2.get(3); !ok || v != "c" {
		t.Fatalf("older version lost key 3: %q %v", v, ok)
	}
	if _, ok := r3.get(3); ok {
		t.Fatalf("deleted key still visible")
	}
	if v, ok := r3.get(70000); !ok || v != "z" {
		t.Fatalf("grown trie lost key: %q %v", v, ok)
	}
	if _, ok := r1.get(70000); ok {
		t.Fatalf("key leaked into older version")
	}
	if same := r3.delete(12345); same != r3 {
		t.Fatalf("deleting an absent key must return the receiver")
	}
}

func TestRadixIterationOrder(t *testing.T) {
	var r *radix[int]
	keys := []uint64{900, 5, 33, 1 << 20, 6, 31, 32}
	for _, k := range keys {
		r = r.set(k, int(k))
	}
	var got []uint64
	r.each(func(k uint64, v int) bool {
		if uint64(v) != k {
			t.Fatalf("key %d holds %d", k, v)
		}
		got = append(got, k)
		return true
	})
	want := slices.Clone(keys)
	slices.Sort(want)
	if !slices.Equal(got, want) {
		t.Fatalf("iteration order = %v, want %v", got, want)
	}

	var first []uint64
	r.each(func(k uint64, _ int) bool {
		first = append(first, k)
		return len(first) < 2
	})
	if len(first) != 2 {
		t.Fatalf("early stop visited %d keys", len(first))
	}
}

func TestRadixSharesUntouchedSubtrees(t *testing.T) {
	var r *radix[int]
	for k := uint64(0); k < 2048; k++ {
		r = r.set(k, int(k))
	}
	next := r.set(5, -1)
	if next.root.kids[1] != r.root.kids[1] {
		t.Fatalf("untouched subtree was copied")
	}
	if next.root.kids[0] == r.root.kids[0] {
		t.Fatalf("touched path was not copied")
	}
	if v, _ := r.get(5); v != 5 {
		t.Fatalf("base version modified: %d", v)
	}
}

package storage

import "math/bits"

const (
	radixBits  = 5
	radixWidth = 1 << radixBits
	radixMask  = radixWidth - 1
)

// radix is a persistent 32-way trie keyed by sequence number. Writes copy the
// path from the root to the touched leaf, so older versions stay valid and
// untouched subtrees are shared.
type radix[V any] struct {
	root  *radixNode[V]
	shift uint
	count int
}

type radixNode[V any] struct {
	kids [radixWidth]*radixNode[V]
	vals [radixWidth]V
	used uint32
}

func (r *radix[V]) len() int {
	if r == nil {
		return 0
	}
	return r.count
}

func (r *radix[V]) capacityFor(key uint64) bool {
	if r.shift+radixBits >= 64 {
		return true
	}
	return key>>(r.shift+radixBits) == 0
}

func (r *radix[V]) get(key uint64) (V, bool) {
	var zero V
	if r == nil || r.root == nil || !r.capacityFor(key) {
		return zero, false
	}
	n := r.root
	for s := r.shift; s > 0; s -= radixBits {
		n = n.kids[(key>>s)&radixMask]
		if n == nil {
			return zero, false
		}
	}
	slot := key & radixMask
	if n.used&(1<<slot) == 0 {
		return zero, false
	}
	return n.vals[slot], true
}

// set returns a new trie with key bound to v.
func (r *radix[V]) set(key uint64, v V) *radix[V] {
	out := &radix[V]{}
	if r != nil {
		*out = *r
	}
	if out.root == nil {
		out.root = &radixNode[V]{}
		out.shift = 0
	}
	for !out.capacityFor(key) {
		grown := &radixNode[V]{}
		grown.kids[0] = out.root
		out.root = grown
		out.shift += radixBits
	}
	root := out.root.clone()
	out.root = root
	n := root
	for s := out.shift; s > 0; s -= radixBits {
		idx := (key >> s) & radixMask
		child := n.kids[idx]
		if child == nil {
			child = &radixNode[V]{}
		} else {
			child = child.clone()
		}
		n.kids[idx] = child
		n = child
	}
	slot := key & radixMask
	if n.used&(1<<slot) == 0 {
		out.count++
	}
	n.vals[slot] = v
	n.used |= 1 << slot
	return out
}

// delete returns a new trie without key. The receiver is returned unchanged
// when the key is absent.
func (r *radix[V]) delete(key uint64) *radix[V] {
	if _, ok := r.get(key); !ok {
		return r
	}
	out := *r
	root := out.root.clone()
	out.root = root
	n := root
	for s := out.shift; s > 0; s -= radixBits {
		idx := (key >> s) & radixMask
		child := n.kids[idx].clone()
		n.kids[idx] = child
		n = child
	}
	slot := key & radixMask
	var zero V
	n.vals[slot] = zero
	n.used &^= 1 << slot
	out.count--
	return &out
}

func (n *radixNode[V]) clone() *radixNode[V] {
	c := *n
	return &c
}

// each visits entries in ascending key order until fn returns false.
func (r *radix[V]) each(fn func(key uint64, v V) bool) bool {
	if r == nil || r.root == nil {
		return true
	}
	return r.root.walk(r.shift, 0, fn)
}

func (n *radixNode[V]) walk(shift uint, prefix uint64, fn func(uint64, V) bool) bool {
	if shift == 0 {
		for used := n.used; used != 0; used &= used - 1 {
			slot := uint64(bits.TrailingZeros32(used))
			if !fn(prefix|slot, n.vals[slot]) {
				return false
			}
		}
		return true
	}
	for i, kid := range n.kids {
		if kid == nil {
			continue
		}
		if !kid.walk(shift-radixBits, prefix|uint64(i)<<shift, fn) {
			return false
		}
	}
	return true
}

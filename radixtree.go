// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// package radixtree is a fixed-depth, byte-radix index over 64-bit keys. Each
// distinct key maps to a bucket: an ordered, growable list of elements that
// were inserted under that key. In addition to exact lookups, the index
// supports masked lookups which return every bucket whose key agrees with a
// query key on the significant bits of a mask.
//
// # Layout
//
// The index is made of two append-only pools. The table pool holds fixed-size
// tables of 256 slots, addressed by their position in the pool. Table 0 is the
// root. The bucket pool holds one bucket per distinct key, in the order the
// keys were first inserted.
//
// A key is consumed one byte at a time, least significant byte first. The
// first 7 bytes select a slot in the tables at levels 0-6, and each of those
// slots holds the index of the child table one level down. The 8th (most
// significant) byte selects a slot in the terminal table at level 7, which
// holds a handle to the key's bucket:
//
//	key = 0x0807060504030201
//
//	level:    0      1      2      3      4      5      6      7
//	byte:   0x01   0x02   0x03   0x04   0x05   0x06   0x07   0x08
//	        root -> t1  -> t2  -> t3  -> t4  -> t5  -> t6  -> t7[0x08] = bucket+1
//
// A slot value of 0 means the slot is empty. The root is never a child, so a
// child table index is never 0. Bucket indexes do start at 0, so terminal
// slots store bucket index + 1 and subtract 1 when decoding.
//
// Tables are materialized lazily on insert, so two keys share tables for as
// long as their low-order bytes agree. Nothing is ever removed from either
// pool.
//
// # Masked lookups
//
// A mask splits the bits of a key into significant bits (mask bit 0) and
// wildcard bits (mask bit 1). A stored key matches a query if
//
//	(stored ^ query) &^ mask == 0
//
// The lookup clears the wildcard bits of the query and walks the tables
// depth-first. At every level the candidate slots are the query byte combined
// with each subset of the wildcard bits of the mask byte, visited in ascending
// order. A mask byte of 0 therefore costs a single slot read, like an exact
// lookup, and a mask byte of 0xff visits every slot of the table. The walk
// stops at the terminal table and reports the buckets it finds there.
package radixtree

import (
	"fmt"
	"math"
	"math/bits"
	"strings"
)

const (
	debug = false

	// tableSize is the number of slots in a table, one per value of a key
	// byte.
	tableSize = 256
	// levels is the number of table hops taken before reaching the terminal
	// table. The terminal table is indexed by the last key byte.
	levels = 7

	linkEmpty link = 0
	maxLink        = math.MaxUint32

	// defaultTableCapacity is enough for the root and the tables along the
	// path of the first key.
	defaultTableCapacity = levels + 1
)

// link is the content of a table slot. At levels 0-6 it is the index of a
// child table, at level 7 it is a bucket index + 1. Zero is always empty.
type link uint32

// Table is a single node of the radix tree.
type Table struct {
	slots [tableSize]link
}

// bucket holds the elements inserted under a single key in insertion order.
type bucket[E any] struct {
	key   uint64
	elems []E
}

// view returns the elements of the bucket. The capacity is clipped so that
// appending to the returned slice never writes into the bucket.
func (b *bucket[E]) view() []E {
	return b.elems[:len(b.elems):len(b.elems)]
}

// RadixTree is an index from 64-bit keys to ordered lists of elements with
// Insert, Get, and GetMasked operations. Elements are never removed.
//
// The zero value is an empty tree using the default allocator. A RadixTree is
// NOT goroutine-safe: Insert must be serialized against every other
// operation. Slices returned by Get, GetMasked, Masked, and Buckets are views
// into the tree and must not be retained across a call to Insert.
type RadixTree[E any] struct {
	// The allocator to use for the table pool and bucket elements.
	allocator Allocator[E]
	// tableCapacity is the initial capacity of the table pool.
	tableCapacity int
	// tables is the table pool. tables[0] is the root.
	tables []Table
	// buckets is the bucket pool, in key creation order.
	buckets []bucket[E]
	// The number of elements across all buckets.
	used int
}

// New constructs a new RadixTree. initialCapacity is the number of distinct
// keys to reserve room for in the bucket pool. If initialCapacity is 0 the
// bucket pool will grow on the first insert.
func New[E any](initialCapacity int, options ...option[E]) *RadixTree[E] {
	t := &RadixTree[E]{}
	t.Init(initialCapacity, options...)
	return t
}

// Init initializes a RadixTree with the specified initial capacity. If the
// tree was in use, its memory is first released to its allocator. Init can be
// used to reuse a RadixTree value, and is called implicitly by the first
// Insert into a zero value.
func (t *RadixTree[E]) Init(initialCapacity int, options ...option[E]) {
	t.Close()

	*t = RadixTree[E]{
		allocator:     defaultAllocator[E]{},
		tableCapacity: defaultTableCapacity,
	}
	for _, op := range options {
		op.apply(t)
	}
	if t.tableCapacity < 1 {
		t.tableCapacity = 1
	}

	t.tables = t.allocator.AllocTables(t.tableCapacity)[:1]
	t.tables[0] = Table{}
	if initialCapacity > 0 {
		t.buckets = make([]bucket[E], 0, initialCapacity)
	}

	t.checkInvariants()
}

// Close releases the tables and element storage of the tree back to its
// configured allocator. It is unnecessary to close a tree using the default
// allocator. It is invalid to use a RadixTree after it has been closed, though
// Close itself is idempotent.
func (t *RadixTree[E]) Close() {
	if t.allocator == nil {
		return
	}
	for i := range t.buckets {
		elems := t.buckets[i].elems
		t.allocator.FreeElements(elems[:cap(elems)])
	}
	if t.tables != nil {
		t.allocator.FreeTables(t.tables[:cap(t.tables)])
	}
	t.tables = nil
	t.buckets = nil
	t.used = 0
	t.allocator = nil
}

// Insert appends e to the bucket for key, creating the bucket and any missing
// tables along the key's path. Insert always succeeds.
func (t *RadixTree[E]) Insert(e E, key uint64) {
	if t.tables == nil {
		t.Init(0)
	}

	var ti link
	h := key
	for level := 0; level < levels; level++ {
		i := uint8(h)
		h >>= 8

		next := t.tables[ti].slots[i]
		if next == linkEmpty {
			// NB: newTable may reallocate the table pool, so the slot must be
			// addressed again after it returns.
			next = t.newTable()
			t.tables[ti].slots[i] = next
			if debug {
				fmt.Printf("insert(%016x): level=%d slot=%02x new-table=%d\n", key, level, i, next)
			}
		}
		ti = next
	}

	slot := &t.tables[ti].slots[uint8(h)]
	if *slot == linkEmpty {
		*slot = t.newBucket(key, e)
		if debug {
			fmt.Printf("insert(%016x): slot=%02x new-bucket=%d\n", key, uint8(h), *slot-1)
		}
	} else {
		b := &t.buckets[*slot-1]
		b.elems = t.appendElement(b.elems, e)
		if debug {
			fmt.Printf("insert(%016x): slot=%02x bucket=%d len=%d\n", key, uint8(h), *slot-1, len(b.elems))
		}
	}
	t.used++

	t.checkInvariants()
}

// Get returns the elements inserted under key in insertion order, or ok=false
// if nothing was ever inserted under key.
func (t *RadixTree[E]) Get(key uint64) (elems []E, ok bool) {
	if t.tables == nil {
		return nil, false
	}

	table := &t.tables[0]
	h := key
	for level := 0; level < levels; level++ {
		next := table.slots[uint8(h)]
		if next == linkEmpty {
			if debug {
				fmt.Printf("get(%016x): level=%d slot=%02x empty\n", key, level, uint8(h))
			}
			return nil, false
		}
		table = &t.tables[next]
		h >>= 8
	}

	handle := table.slots[uint8(h)]
	if handle == linkEmpty {
		return nil, false
	}
	return t.buckets[handle-1].view(), true
}

// GetMasked returns the buckets of every stored key that agrees with key on
// all of the bits that are 0 in mask. Bits that are 1 in mask are wildcards.
// Buckets are returned in depth-first order of the tree, which visits keys in
// ascending order of their byte-reversed value. A mask of 0 is an exact
// lookup and a mask of all ones returns every bucket. GetMasked returns nil if
// no key matches.
func (t *RadixTree[E]) GetMasked(key, mask uint64) [][]E {
	var result [][]E
	t.Masked(key, mask, func(_ uint64, elems []E) bool {
		result = append(result, elems)
		return true
	})
	return result
}

// Masked calls yield for each bucket matched by key and mask, in the same
// order as GetMasked, passing the full key of the bucket. If yield returns
// false, iteration stops. The tree must not be mutated during iteration.
func (t *RadixTree[E]) Masked(key, mask uint64, yield func(key uint64, elems []E) bool) {
	if t.tables == nil {
		return
	}
	if debug {
		fmt.Printf("masked(%016x, %016x): wildcard-bits=%d\n", key, mask, bits.OnesCount64(mask))
	}
	t.masked(&t.tables[0], 0, key&^mask, mask, yield)
}

// masked visits the slots of table that are compatible with the low byte of
// key under the low byte of mask, recursing into child tables until the
// terminal level. key must already have its wildcard bits cleared. It returns
// false if yield stopped the iteration.
func (t *RadixTree[E]) masked(
	table *Table, level int, key, mask uint64, yield func(key uint64, elems []E) bool,
) bool {
	q, m := uint8(key), uint8(mask)

	// Enumerate the subsets s of m in ascending order. Every candidate slot
	// is q|s, and since q and m share no bits the slots are ascending too.
	for s := uint8(0); ; s = (s - m) & m {
		if l := table.slots[q|s]; l != linkEmpty {
			if level == levels {
				b := &t.buckets[l-1]
				if debug {
					fmt.Printf("masked(matched): slot=%02x bucket=%d key=%016x\n", q|s, l-1, b.key)
				}
				if !yield(b.key, b.view()) {
					return false
				}
			} else if !t.masked(&t.tables[l], level+1, key>>8, mask>>8, yield) {
				return false
			}
		}
		if s == m {
			return true
		}
	}
}

// All calls yield sequentially for each element in the tree along with the key
// it was inserted under. Buckets are visited in the order their keys were
// first inserted and elements in the order they were inserted. If yield
// returns false, iteration stops. The tree must not be mutated during
// iteration.
func (t *RadixTree[E]) All(yield func(key uint64, e E) bool) {
	t.Buckets(func(key uint64, elems []E) bool {
		for _, e := range elems {
			if !yield(key, e) {
				return false
			}
		}
		return true
	})
}

// Buckets calls yield sequentially for each bucket in the order their keys
// were first inserted. If yield returns false, iteration stops.
func (t *RadixTree[E]) Buckets(yield func(key uint64, elems []E) bool) {
	for i := range t.buckets {
		b := &t.buckets[i]
		if !yield(b.key, b.view()) {
			return
		}
	}
}

// Len returns the number of elements in the tree.
func (t *RadixTree[E]) Len() int {
	return t.used
}

// IsEmpty returns true if nothing has been inserted into the tree.
func (t *RadixTree[E]) IsEmpty() bool {
	return t.Len() == 0
}

// KeyCount returns the number of distinct keys in the tree.
func (t *RadixTree[E]) KeyCount() int {
	return len(t.buckets)
}

// TableCount returns the number of materialized tables, including the root.
func (t *RadixTree[E]) TableCount() int {
	return len(t.tables)
}

// newTable appends an empty table to the table pool, growing the pool if
// necessary, and returns its index.
func (t *RadixTree[E]) newTable() link {
	n := len(t.tables)
	if uint64(n) >= maxLink {
		panic(fmt.Sprintf("radixtree: table pool overflow (%d tables)", n))
	}
	if n == cap(t.tables) {
		t.growTables(2 * n)
	}
	t.tables = t.tables[:n+1]
	t.tables[n] = Table{}
	return link(n)
}

// growTables reallocates the table pool with the specified capacity and
// releases the previous backing array to the allocator.
func (t *RadixTree[E]) growTables(newCapacity int) {
	old := t.tables
	t.tables = t.allocator.AllocTables(newCapacity)[:len(old)]
	copy(t.tables, old)
	t.allocator.FreeTables(old[:cap(old)])
}

// newBucket appends a bucket holding only e to the bucket pool and returns
// its handle.
func (t *RadixTree[E]) newBucket(key uint64, e E) link {
	n := len(t.buckets)
	if uint64(n) >= maxLink {
		panic(fmt.Sprintf("radixtree: bucket pool overflow (%d buckets)", n))
	}
	elems := t.allocator.AllocElements(1)[:1]
	elems[0] = e
	t.buckets = append(t.buckets, bucket[E]{key: key, elems: elems})
	return link(n + 1)
}

// appendElement appends e to elems, doubling the backing array through the
// allocator when it is full.
func (t *RadixTree[E]) appendElement(elems []E, e E) []E {
	if n := len(elems); n == cap(elems) {
		grown := t.allocator.AllocElements(2 * n)[:n]
		copy(grown, elems)
		t.allocator.FreeElements(elems[:cap(elems)])
		elems = grown
	}
	return append(elems, e)
}

func (t *RadixTree[E]) checkInvariants() {
	if invariants {
		if len(t.tables) == 0 {
			if len(t.buckets) != 0 || t.used != 0 {
				panic(fmt.Sprintf("invariant failed: no root table, but %d buckets and %d elements",
					len(t.buckets), t.used))
			}
			return
		}

		// Walk the tree from the root, counting the references to every table
		// and bucket. Every table other than the root must be referenced
		// exactly once from the level above it, and every bucket exactly once
		// from a terminal table.
		tableRefs := make([]int, len(t.tables))
		bucketRefs := make([]int, len(t.buckets))
		var walk func(ti link, level int)
		walk = func(ti link, level int) {
			for i, l := range t.tables[ti].slots {
				if l == linkEmpty {
					continue
				}
				if level < levels {
					if int(l) >= len(t.tables) {
						panic(fmt.Sprintf("invariant failed: table(%d)[%02x] at level %d: link %d out of range\n%s",
							ti, i, level, l, t.debugString()))
					}
					if tableRefs[l]++; tableRefs[l] > 1 {
						panic(fmt.Sprintf("invariant failed: table(%d) reachable twice\n%s", l, t.debugString()))
					}
					walk(l, level+1)
					continue
				}
				if int(l-1) >= len(t.buckets) {
					panic(fmt.Sprintf("invariant failed: table(%d)[%02x]: bucket handle %d out of range\n%s",
						ti, i, l, t.debugString()))
				}
				if bucketRefs[l-1]++; bucketRefs[l-1] > 1 {
					panic(fmt.Sprintf("invariant failed: bucket(%d) reachable twice\n%s", l-1, t.debugString()))
				}
			}
		}
		walk(0, 0)

		for i := 1; i < len(tableRefs); i++ {
			if tableRefs[i] != 1 {
				panic(fmt.Sprintf("invariant failed: table(%d) is unreachable\n%s", i, t.debugString()))
			}
		}

		// For every bucket, verify it is non-empty and that its key leads back
		// to it. Count the number of elements.
		var used int
		for i := range t.buckets {
			b := &t.buckets[i]
			if bucketRefs[i] != 1 {
				panic(fmt.Sprintf("invariant failed: bucket(%d) is unreachable\n%s", i, t.debugString()))
			}
			if len(b.elems) == 0 {
				panic(fmt.Sprintf("invariant failed: bucket(%d) is empty\n%s", i, t.debugString()))
			}
			if elems, ok := t.Get(b.key); !ok || &elems[0] != &b.elems[0] {
				panic(fmt.Sprintf("invariant failed: bucket(%d): key %016x does not lead back to it\n%s",
					i, b.key, t.debugString()))
			}
			used += len(b.elems)
		}

		if used != t.used {
			panic(fmt.Sprintf("invariant failed: found %d elements, but used count is %d\n%s",
				used, t.used, t.debugString()))
		}
	}
}

func (t *RadixTree[E]) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "tables=%d  buckets=%d  used=%d\n", len(t.tables), len(t.buckets), t.used)
	for ti := range t.tables {
		fmt.Fprintf(&buf, "  table %4d:", ti)
		for i, l := range t.tables[ti].slots {
			if l != linkEmpty {
				fmt.Fprintf(&buf, " [%02x]=%d", i, l)
			}
		}
		buf.WriteString("\n")
	}
	for i := range t.buckets {
		b := &t.buckets[i]
		fmt.Fprintf(&buf, "  bucket %4d: key=%016x len=%d\n", i, b.key, len(b.elems))
	}
	return buf.String()
}

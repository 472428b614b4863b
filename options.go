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

package radixtree

// option provide an interface to do work on RadixTree while it is being
// created.
type option[E any] interface {
	apply(t *RadixTree[E])
}

// Allocator specifies an interface for allocating and releasing memory used
// by a RadixTree. The default allocator utilizes Go's builtin make() and
// allows the GC to reclaim memory.
//
// The table pool and the elements of every bucket grow by doubling: a larger
// slice is allocated, the existing contents are copied, and the previous
// slice is freed. Slices returned by Get and friends point into the element
// slices, so an allocator which reuses freed memory makes those views invalid
// on the next Insert.
//
// If the allocator is manually managing memory and requires that tables and
// elements be freed then RadixTree.Close must be called in order to ensure
// FreeTables and FreeElements are called.
type Allocator[E any] interface {
	// AllocTables should return a slice equivalent to make([]Table, n).
	AllocTables(n int) []Table

	// AllocElements should return a slice equivalent to make([]E, n).
	AllocElements(n int) []E

	// FreeTables can optional release the memory associated with the
	// supplied slice that is guaranteed to have been allocated by
	// AllocTables.
	FreeTables(v []Table)

	// FreeElements can optional release the memory associated with the
	// supplied slice that is guaranteed to have been allocated by
	// AllocElements.
	FreeElements(v []E)
}

type defaultAllocator[E any] struct{}

func (defaultAllocator[E]) AllocTables(n int) []Table {
	return make([]Table, n)
}

func (defaultAllocator[E]) AllocElements(n int) []E {
	return make([]E, n)
}

func (defaultAllocator[E]) FreeTables(v []Table) {
}

func (defaultAllocator[E]) FreeElements(v []E) {
}

type allocatorOption[E any] struct {
	allocator Allocator[E]
}

func (op allocatorOption[E]) apply(t *RadixTree[E]) {
	t.allocator = op.allocator
}

// WithAllocator is an option for specify the Allocator to use for a
// RadixTree[E].
func WithAllocator[E any](allocator Allocator[E]) option[E] {
	return allocatorOption[E]{allocator}
}

type tableCapacityOption[E any] struct {
	capacity int
}

func (op tableCapacityOption[E]) apply(t *RadixTree[E]) {
	t.tableCapacity = op.capacity
}

// WithTableCapacity is an option to specify the initial capacity of the table
// pool, including the root table. Every distinct key prefix materializes a
// table, so a tree holding n keys with random low-order bytes needs roughly
// 7n+1 tables. The default is enough for the root and a single key.
func WithTableCapacity[E any](capacity int) option[E] {
	return tableCapacityOption[E]{capacity}
}

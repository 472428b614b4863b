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

package radixtree_test

import (
	"fmt"

	"github.com/cockroachdb/radixtree"
)

func Example() {
	t := radixtree.New[string](0)
	t.Insert("a", 0b01)
	t.Insert("b", 0b00)
	t.Insert("c", 0b01)

	fmt.Println(t.Get(0b01))
	fmt.Println(t.Get(0b10))

	// The low bit is a wildcard, so both keys match.
	fmt.Println(t.GetMasked(0b01, 0b01))
	fmt.Println(t.Len(), t.KeyCount())
	// Output:
	// [a c] true
	// [] false
	// [[b] [a c]]
	// 3 2
}

func ExampleRadixTree_Masked() {
	t := radixtree.New[int](0)
	for i := 0; i < 4; i++ {
		t.Insert(i, uint64(i)<<56)
	}

	// Keys which have 0 in the lowest bit of the most significant byte.
	t.Masked(0, ^uint64(1<<56), func(key uint64, elems []int) bool {
		fmt.Printf("%016x %v\n", key, elems)
		return true
	})
	// Output:
	// 0000000000000000 [0]
	// 0200000000000000 [2]
}

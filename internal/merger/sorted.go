// Copyright 2021 ecodeclub
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package merger

import (
	"container/heap"
)

// Sorted 多路归并。每个分片的结果必须已经按照 cmp 排好序，
// 输出按照 cmp 全局有序，相等的元素按照分片在 results 里面的顺序输出。
func Sorted[E any](cmp func(a, b E) int) Merger[[]E] {
	return MergeFunc[[]E](func(results [][]E) ([]E, error) {
		h := &cursorHeap[E]{cmp: cmp}
		cnt := 0
		for i, r := range results {
			cnt += len(r)
			if len(r) > 0 {
				h.cursors = append(h.cursors, &cursor[E]{seq: i, values: r})
			}
		}
		heap.Init(h)
		res := make([]E, 0, cnt)
		for h.Len() > 0 {
			c := h.cursors[0]
			res = append(res, c.values[c.pos])
			c.pos++
			if c.pos == len(c.values) {
				heap.Pop(h)
				continue
			}
			heap.Fix(h, 0)
		}
		return res, nil
	})
}

type cursor[E any] struct {
	seq    int
	pos    int
	values []E
}

type cursorHeap[E any] struct {
	cursors []*cursor[E]
	cmp     func(a, b E) int
}

func (h *cursorHeap[E]) Len() int {
	return len(h.cursors)
}

func (h *cursorHeap[E]) Less(i, j int) bool {
	ci, cj := h.cursors[i], h.cursors[j]
	if res := h.cmp(ci.values[ci.pos], cj.values[cj.pos]); res != 0 {
		return res < 0
	}
	return ci.seq < cj.seq
}

func (h *cursorHeap[E]) Swap(i, j int) {
	h.cursors[i], h.cursors[j] = h.cursors[j], h.cursors[i]
}

func (h *cursorHeap[E]) Push(x any) {
	h.cursors = append(h.cursors, x.(*cursor[E]))
}

func (h *cursorHeap[E]) Pop() any {
	old := h.cursors
	n := len(old)
	c := old[n-1]
	old[n-1] = nil
	h.cursors = old[:n-1]
	return c
}

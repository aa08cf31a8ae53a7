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

// Merger 把每个分片的结果合并成一个逻辑结果，不做任何 I/O。
// results 可以为空，此时返回零值；results 里面的元素也可能是 nil。
type Merger[T any] interface {
	Merge(results []T) (T, error)
}

type MergeFunc[T any] func(results []T) (T, error)

func (f MergeFunc[T]) Merge(results []T) (T, error) {
	return f(results)
}

type Ordered interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 | ~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~float32 | ~float64 | ~string
}

type Number interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 | ~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~float32 | ~float64
}

type Order bool

const (
	// OrderASC 升序排序
	OrderASC Order = true
	// OrderDESC 降序排序
	OrderDESC Order = false
)

// Compare 升序时， -1 表示 i < j, 1 表示i > j ,0 表示两者相同
// 降序时，-1 表示 i > j, 1 表示 i < j ,0 表示两者相同
func Compare[T Ordered](i, j T, order Order) int {
	if i < j && order == OrderASC || i > j && order == OrderDESC {
		return -1
	} else if i > j && order == OrderASC || i < j && order == OrderDESC {
		return 1
	} else {
		return 0
	}
}

// OrderBy 用 key 提取排序字段，构造 Sorted 需要的比较函数
func OrderBy[E any, K Ordered](key func(E) K, order Order) func(a, b E) int {
	return func(a, b E) int {
		return Compare(key(a), key(b), order)
	}
}

// Then 在 cmp 相等的时候使用 next 比较，用于多列排序
func Then[E any](cmp func(a, b E) int, next func(a, b E) int) func(a, b E) int {
	return func(a, b E) int {
		if res := cmp(a, b); res != 0 {
			return res
		}
		return next(a, b)
	}
}

package shardclient

import (
	"github.com/meoying/shardclient/internal/merger"
)

// Merger 把每个分片的结果合并成一个结果
type Merger[T any] interface {
	Merge(results []T) (T, error)
}

// MergeFunc 把一个函数适配成 Merger
type MergeFunc[T any] func(results []T) (T, error)

func (f MergeFunc[T]) Merge(results []T) (T, error) {
	return f(results)
}

type Order = merger.Order

const (
	OrderASC  = merger.OrderASC
	OrderDESC = merger.OrderDESC
)

func Concat[E any]() Merger[[]E] {
	return merger.Concat[E]()
}

func MapUnion[K comparable, V any]() Merger[map[K]V] {
	return merger.MapUnion[K, V]()
}

func FirstNonNull[T any]() Merger[T] {
	return merger.FirstNonNull[T]()
}

// Sorted 每个分片的结果已经按照 cmp 排好序，合并之后全局有序
func Sorted[E any](cmp func(a, b E) int) Merger[[]E] {
	return merger.Sorted(cmp)
}

func OrderBy[E any, K merger.Ordered](key func(E) K, order Order) func(a, b E) int {
	return merger.OrderBy(key, order)
}

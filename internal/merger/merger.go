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
	"reflect"

	"github.com/meoying/shardclient/internal/errs"
)

// Concat 按照分片的顺序把列表拼接起来
func Concat[E any]() Merger[[]E] {
	return MergeFunc[[]E](func(results [][]E) ([]E, error) {
		cnt := 0
		for _, r := range results {
			cnt += len(r)
		}
		res := make([]E, 0, cnt)
		for _, r := range results {
			res = append(res, r...)
		}
		return res, nil
	})
}

// MapUnion 合并 map，key 冲突时后面的分片覆盖前面的分片
func MapUnion[K comparable, V any]() Merger[map[K]V] {
	return MergeFunc[map[K]V](func(results []map[K]V) (map[K]V, error) {
		res := make(map[K]V)
		for _, r := range results {
			for k, v := range r {
				res[k] = v
			}
		}
		return res, nil
	})
}

// FirstNonNull 用于按照唯一标识查询单个对象。
// 超过一个分片返回了非 nil 的结果说明路由规则或者数据有问题，返回 ErrIncorrectResultSize。
func FirstNonNull[T any]() Merger[T] {
	return MergeFunc[T](func(results []T) (T, error) {
		var (
			res T
			cnt int
		)
		for _, r := range results {
			if IsNil(r) {
				continue
			}
			cnt++
			res = r
		}
		if cnt > 1 {
			var zero T
			return zero, errs.NewIncorrectResultSizeError(1, cnt)
		}
		return res, nil
	})
}

// Sum 累加，用于合并更新、删除影响的行数
func Sum[T Number]() Merger[T] {
	return MergeFunc[T](func(results []T) (T, error) {
		var res T
		for _, r := range results {
			res += r
		}
		return res, nil
	})
}

// IsNil 判断 v 是不是 nil，包括装着 nil 指针的接口
func IsNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}

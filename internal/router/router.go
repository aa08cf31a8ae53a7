package router

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/meoying/shardclient/internal/errs"
)

// DefaultCacheCapacity 路由结果缓存的默认容量
const DefaultCacheCapacity = 10000

// Result 路由结果。ResourceIdentities 为空表示没有命中任何规则，调用方应该使用默认数据源
type Result struct {
	ResourceIdentities []string
	// Merger 规则上配置的合并策略名字，可以为空
	Merger string
}

func (r Result) Empty() bool {
	return len(r.ResourceIdentities) == 0
}

func (r Result) clone() Result {
	ids := make([]string, len(r.ResourceIdentities))
	copy(ids, r.ResourceIdentities)
	return Result{ResourceIdentities: ids, Merger: r.Merger}
}

const (
	groupActionExpr = iota
	groupAction
	groupNamespaceExpr
	groupNamespace
	groupCount
)

// Sequence 一个 namespace 下的全部规则，按照从具体到宽泛分成四组：
// 带表达式的 action 规则、action 规则、带表达式的 namespace 规则、namespace 规则。
// 组内保持配置顺序，第一条命中的规则生效。
type Sequence struct {
	groups [groupCount][]Rule
}

func (s *Sequence) add(group int, r Rule) {
	s.groups[group] = append(s.groups[group], r)
}

func (s *Sequence) match(ctx context.Context, fact Fact) (Rule, bool) {
	for _, group := range s.groups {
		for _, r := range group {
			if r.Match(ctx, fact) {
				return r, true
			}
		}
	}
	return nil, false
}

// Stats 路由统计
type Stats struct {
	Hits      uint64
	Misses    uint64
	Matched   uint64
	Unmatched uint64
}

// Router 根据 Fact 计算目标分片。规则在构造之后只读，
// 只有缓存和统计需要加锁。
type Router struct {
	sequences map[string]*Sequence
	logger    *slog.Logger

	mu    sync.Mutex
	cache *simplelru.LRU[string, Result]
	stats Stats
}

// Route 路由 fact。没有命中任何规则时返回空的 Result 而不是 error
func (r *Router) Route(ctx context.Context, fact Fact) (Result, error) {
	if fact.Action == "" {
		return Result{}, &errs.RoutingError{Reason: errs.ErrEmptyAction.Error()}
	}
	var (
		key       string
		cacheable bool
	)
	if r.cache != nil {
		key, cacheable = cacheKey(fact)
	}
	if !cacheable {
		res := r.route(ctx, fact)
		r.mu.Lock()
		r.count(res)
		r.mu.Unlock()
		return res, nil
	}

	// 查找和写入都在同一把锁里面，避免同一个 fact 被重复计算后互相覆盖
	r.mu.Lock()
	defer r.mu.Unlock()
	if res, ok := r.cache.Get(key); ok {
		r.stats.Hits++
		r.count(res)
		return res.clone(), nil
	}
	r.stats.Misses++
	res := r.route(ctx, fact)
	r.count(res)
	r.cache.Add(key, res)
	return res.clone(), nil
}

func (r *Router) route(ctx context.Context, fact Fact) Result {
	seq, ok := r.sequences[fact.Namespace()]
	if !ok {
		r.logger.DebugContext(ctx, "没有 namespace 对应的路由规则", "action", fact.Action)
		return Result{}
	}
	rule, ok := seq.match(ctx, fact)
	if !ok {
		r.logger.DebugContext(ctx, "没有命中路由规则", "action", fact.Action)
		return Result{}
	}
	ids := sets.List(sets.New[string](rule.Shards()...))
	r.logger.DebugContext(ctx, "命中路由规则", "action", fact.Action, "key", rule.Key(), "shards", ids)
	return Result{ResourceIdentities: ids, Merger: rule.Merger()}
}

func (r *Router) count(res Result) {
	if res.Empty() {
		r.stats.Unmatched++
		return
	}
	r.stats.Matched++
}

// Purge 清空路由缓存。运行时修改了规则的调用方必须调用
func (r *Router) Purge() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cache != nil {
		r.cache.Purge()
	}
}

func (r *Router) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Namespaces 返回配置了规则的 namespace
func (r *Router) Namespaces() []string {
	res := sets.New[string]()
	for ns := range r.sequences {
		res.Insert(ns)
	}
	return sets.List(res)
}

// maxKeyDepth 参数嵌套超过这个深度时不缓存，同时用来截断指针环
const maxKeyDepth = 32

// cacheKey 由 action 和参数的完整展开组成，参数中的指针全部解引用，
// map 按照 key 排序。参数中含有 func、chan 等无法展开的值时返回 false，这种 fact 不缓存
func cacheKey(fact Fact) (string, bool) {
	var b strings.Builder
	b.WriteString(fact.Action)
	b.WriteByte(0)
	if !writeKey(&b, reflect.ValueOf(fact.Argument), 0) {
		return "", false
	}
	return b.String(), true
}

func writeKey(b *strings.Builder, rv reflect.Value, depth int) bool {
	if depth > maxKeyDepth {
		return false
	}
	if !rv.IsValid() {
		b.WriteString("nil")
		return true
	}
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			b.WriteString("nil")
			return true
		}
		b.WriteByte('&')
		return writeKey(b, rv.Elem(), depth+1)
	case reflect.Struct:
		b.WriteString(rv.Type().String())
		b.WriteByte('{')
		for i := 0; i < rv.NumField(); i++ {
			b.WriteString(rv.Type().Field(i).Name)
			b.WriteByte(':')
			if !writeKey(b, rv.Field(i), depth+1) {
				return false
			}
			b.WriteByte(',')
		}
		b.WriteByte('}')
		return true
	case reflect.Slice:
		if rv.IsNil() {
			b.WriteString("nil")
			return true
		}
		fallthrough
	case reflect.Array:
		b.WriteByte('[')
		for i := 0; i < rv.Len(); i++ {
			if !writeKey(b, rv.Index(i), depth+1) {
				return false
			}
			b.WriteByte(',')
		}
		b.WriteByte(']')
		return true
	case reflect.Map:
		if rv.IsNil() {
			b.WriteString("nil")
			return true
		}
		entries := make([]string, 0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			var eb strings.Builder
			if !writeKey(&eb, iter.Key(), depth+1) {
				return false
			}
			eb.WriteByte(':')
			if !writeKey(&eb, iter.Value(), depth+1) {
				return false
			}
			entries = append(entries, eb.String())
		}
		sort.Strings(entries)
		b.WriteString("map{")
		b.WriteString(strings.Join(entries, ","))
		b.WriteByte('}')
		return true
	case reflect.String:
		b.WriteString(rv.Type().String())
		b.WriteByte('(')
		b.WriteString(strconv.Quote(rv.String()))
		b.WriteByte(')')
		return true
	case reflect.Bool, reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		// 非导出字段不能调用 Interface，fmt 对 reflect.Value 会直接打印底层的值
		fmt.Fprintf(b, "%s(%v)", rv.Type(), rv)
		return true
	default:
		return false
	}
}

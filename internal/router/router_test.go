package router

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meoying/shardclient/internal/errs"
)

type Offer struct {
	ID     int64  `json:"id"`
	City   string `json:"city"`
	Detail *Detail
}

type Detail struct {
	Level int
}

func TestRouter_Route(t *testing.T) {
	testCases := []struct {
		name    string
		descs   []Descriptor
		opts    []Option
		fact    Fact
		want    Result
		wantErr error
	}{
		{
			name: "action 规则优先于 namespace 规则",
			descs: []Descriptor{
				{Namespace: "ns", Shards: "s1"},
				{SQLAction: "ns.create", Shards: "s2, s1"},
			},
			fact: Fact{Action: "ns.create", Argument: 1},
			want: Result{ResourceIdentities: []string{"s1", "s2"}},
		},
		{
			name: "回退到 namespace 规则",
			descs: []Descriptor{
				{SQLAction: "ns.create", Shards: "s1,s2"},
				{Namespace: "ns", Shards: "s1"},
			},
			fact: Fact{Action: "ns.read", Argument: 1},
			want: Result{ResourceIdentities: []string{"s1"}},
		},
		{
			name: "表达式命中",
			descs: []Descriptor{
				{SQLAction: "ns.create", ShardingExpression: "id < 1000", Shards: "s1"},
				{Namespace: "ns", Shards: "s2"},
			},
			fact: Fact{Action: "ns.create", Argument: map[string]any{"id": 50}},
			want: Result{ResourceIdentities: []string{"s1"}},
		},
		{
			name: "表达式未命中回退",
			descs: []Descriptor{
				{SQLAction: "ns.create", ShardingExpression: "id < 1000", Shards: "s1"},
				{Namespace: "ns", Shards: "s2"},
			},
			fact: Fact{Action: "ns.create", Argument: map[string]any{"id": 5000}},
			want: Result{ResourceIdentities: []string{"s2"}},
		},
		{
			name: "带表达式的 action 规则优先",
			descs: []Descriptor{
				{SQLAction: "ns.create", Shards: "s3"},
				{SQLAction: "ns.create", ShardingExpression: "root.City == \"hz\"", Shards: "s1"},
			},
			fact: Fact{Action: "ns.create", Argument: &Offer{ID: 1, City: "hz"}},
			want: Result{ResourceIdentities: []string{"s1"}},
		},
		{
			name: "json tag 和嵌套字段",
			descs: []Descriptor{
				{Namespace: "offer", ShardingExpression: `city == "sh" && Detail.Level > 2`, Shards: "s2"},
				{Namespace: "offer", Shards: "s1"},
			},
			fact: Fact{Action: "offer.update", Argument: Offer{City: "sh", Detail: &Detail{Level: 3}}},
			want: Result{ResourceIdentities: []string{"s2"}},
		},
		{
			name: "表达式求值失败视为未命中",
			descs: []Descriptor{
				{SQLAction: "ns.create", ShardingExpression: "missing > 1", Shards: "s1"},
				{Namespace: "ns", Shards: "s2"},
			},
			fact: Fact{Action: "ns.create", Argument: map[string]any{"id": 1}},
			want: Result{ResourceIdentities: []string{"s2"}},
		},
		{
			name: "非结构体参数使用 root",
			descs: []Descriptor{
				{SQLAction: "ns.get", ShardingExpression: "mod(root, 2) == 0", Shards: "s0"},
				{SQLAction: "ns.get", ShardingExpression: "mod(root, 2) == 1", Shards: "s1"},
			},
			fact: Fact{Action: "ns.get", Argument: int64(7)},
			want: Result{ResourceIdentities: []string{"s1"}},
		},
		{
			name: "between",
			descs: []Descriptor{
				{SQLAction: "ns.get", ShardingExpression: "between(root.ID, 1, 100)", Shards: "s1"},
			},
			fact: Fact{Action: "ns.get", Argument: &Offer{ID: 100}},
			want: Result{ResourceIdentities: []string{"s1"}},
		},
		{
			name: "自定义函数",
			descs: []Descriptor{
				{SQLAction: "ns.get", ShardingExpression: "isVip(id)", Shards: "vip"},
			},
			opts: []Option{WithFunction("isVip", func(args ...any) (any, error) {
				return len(args) == 1 && args[0] == float64(8), nil
			})},
			fact: Fact{Action: "ns.get", Argument: Offer{ID: 8}},
			want: Result{ResourceIdentities: []string{"vip"}},
		},
		{
			name: "组内第一条命中的规则生效",
			descs: []Descriptor{
				{SQLAction: "ns.get", ShardingExpression: "id > 0", Shards: "s1"},
				{SQLAction: "ns.get", ShardingExpression: "id > 10", Shards: "s2"},
			},
			fact: Fact{Action: "ns.get", Argument: Offer{ID: 20}},
			want: Result{ResourceIdentities: []string{"s1"}},
		},
		{
			name: "重复的分片去重排序",
			descs: []Descriptor{
				{Namespace: "ns", Shards: "s3;s1,s3", Merger: "concat"},
			},
			opts: []Option{WithSeparator(",;")},
			fact: Fact{Action: "ns.get"},
			want: Result{ResourceIdentities: []string{"s1", "s3"}, Merger: "concat"},
		},
		{
			name: "没有 namespace",
			descs: []Descriptor{
				{Namespace: "ns", Shards: "s1"},
			},
			fact: Fact{Action: "other.get"},
			want: Result{},
		},
		{
			name: "没有规则",
			fact: Fact{Action: "ns.get"},
			want: Result{},
		},
		{
			name:    "action 为空",
			descs:   []Descriptor{{Namespace: "ns", Shards: "s1"}},
			fact:    Fact{},
			wantErr: errs.ErrRouting,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r, err := New(tc.descs, tc.opts...)
			require.NoError(t, err)
			res, err := r.Route(context.Background(), tc.fact)
			assert.True(t, errors.Is(err, tc.wantErr))
			if err != nil {
				return
			}
			assert.Equal(t, tc.want.Merger, res.Merger)
			assert.ElementsMatch(t, tc.want.ResourceIdentities, res.ResourceIdentities)
			assert.Equal(t, len(tc.want.ResourceIdentities) == 0, res.Empty())
		})
	}
}

func TestNew(t *testing.T) {
	testCases := []struct {
		name    string
		descs   []Descriptor
		opts    []Option
		wantErr error
	}{
		{
			name:  "合法",
			descs: []Descriptor{{Namespace: "ns", Shards: "s1"}},
		},
		{
			name:    "同时设置 namespace 和 action",
			descs:   []Descriptor{{Namespace: "ns", SQLAction: "ns.get", Shards: "s1"}},
			wantErr: errs.ErrRouting,
		},
		{
			name:    "都没有设置",
			descs:   []Descriptor{{Shards: "s1"}},
			wantErr: errs.ErrRouting,
		},
		{
			name:    "没有分片",
			descs:   []Descriptor{{Namespace: "ns", Shards: " , "}},
			wantErr: errs.ErrRouting,
		},
		{
			name:    "表达式无法解析",
			descs:   []Descriptor{{Namespace: "ns", ShardingExpression: "id >", Shards: "s1"}},
			wantErr: errs.ErrRouting,
		},
		{
			name:    "未知分片",
			descs:   []Descriptor{{Namespace: "ns", Shards: "s1,s9"}},
			opts:    []Option{WithKnownShards("s1", "s2")},
			wantErr: errs.ErrRouting,
		},
		{
			name:    "空分隔符",
			descs:   []Descriptor{{Namespace: "ns", Shards: "s1"}},
			opts:    []Option{WithSeparator("")},
			wantErr: errs.ErrRouting,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.descs, tc.opts...)
			assert.True(t, errors.Is(err, tc.wantErr), "%v", err)
		})
	}
}

func TestRouter_Cache(t *testing.T) {
	r, err := New([]Descriptor{
		{SQLAction: "ns.get", ShardingExpression: "id < 10", Shards: "s1"},
		{Namespace: "ns", Shards: "s2"},
	}, WithCache(2))
	require.NoError(t, err)
	ctx := context.Background()

	first, err := r.Route(ctx, Fact{Action: "ns.get", Argument: &Offer{ID: 1}})
	require.NoError(t, err)
	// 参数内容相同的不同指针命中同一个缓存项
	second, err := r.Route(ctx, Fact{Action: "ns.get", Argument: &Offer{ID: 1}})
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, []string{"s1"}, second.ResourceIdentities)

	// 修改返回值不影响缓存
	second.ResourceIdentities[0] = "changed"
	third, err := r.Route(ctx, Fact{Action: "ns.get", Argument: &Offer{ID: 1}})
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, third.ResourceIdentities)

	res, err := r.Route(ctx, Fact{Action: "ns.get", Argument: &Offer{ID: 100}})
	require.NoError(t, err)
	assert.Equal(t, []string{"s2"}, res.ResourceIdentities)

	_, err = r.Route(ctx, Fact{Action: "x.get"})
	require.NoError(t, err)

	assert.Equal(t, Stats{Hits: 2, Misses: 3, Matched: 4, Unmatched: 1}, r.Stats())

	r.Purge()
	_, err = r.Route(ctx, Fact{Action: "ns.get", Argument: &Offer{ID: 1}})
	require.NoError(t, err)
	assert.Equal(t, uint64(4), r.Stats().Misses)
}

func TestRouter_ExpressionPanicIsNoMatch(t *testing.T) {
	r, err := New([]Descriptor{
		{SQLAction: "ns.create", ShardingExpression: "ID < 1000", Shards: "s1"},
		{SQLAction: "ns.update", ShardingExpression: "explode(ID)", Shards: "s1"},
		{Namespace: "ns", Shards: "s2"},
	}, WithFunction("explode", func(args ...any) (any, error) {
		panic("explode")
	}))
	require.NoError(t, err)

	testCases := []struct {
		name string
		fact Fact
	}{
		{name: "内嵌指针为 nil", fact: Fact{Action: "ns.create", Argument: &Entity{Name: "tom"}}},
		{name: "自定义函数 panic", fact: Fact{Action: "ns.update", Argument: Entity{Base: &Base{ID: 1}}}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var res Result
			assert.NotPanics(t, func() {
				res, err = r.Route(context.Background(), tc.fact)
			})
			require.NoError(t, err)
			assert.Equal(t, []string{"s2"}, res.ResourceIdentities)
		})
	}
}

type Query struct {
	ID *int64
}

func TestRouter_CacheFollowsPointers(t *testing.T) {
	descs := []Descriptor{
		{SQLAction: "ns.get", ShardingExpression: "ID < 1000", Shards: "s1"},
		{Namespace: "ns", Shards: "s2"},
	}
	cached, err := New(descs, WithCache(16))
	require.NoError(t, err)
	ctx := context.Background()

	id := int64(50)
	q := &Query{ID: &id}
	res, err := cached.Route(ctx, Fact{Action: "ns.get", Argument: q})
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, res.ResourceIdentities)

	// 通过同一个指针修改参数之后不能命中旧的缓存项
	id = 5000
	res, err = cached.Route(ctx, Fact{Action: "ns.get", Argument: q})
	require.NoError(t, err)
	assert.Equal(t, []string{"s2"}, res.ResourceIdentities)
	assert.Equal(t, uint64(0), cached.Stats().Hits)

	other := int64(5000)
	res, err = cached.Route(ctx, Fact{Action: "ns.get", Argument: &Query{ID: &other}})
	require.NoError(t, err)
	assert.Equal(t, []string{"s2"}, res.ResourceIdentities)
	assert.Equal(t, uint64(1), cached.Stats().Hits)
}

func TestRouter_CacheSkipsUnsupportedArgument(t *testing.T) {
	r, err := New([]Descriptor{{Namespace: "ns", Shards: "s1"}}, WithCache(16))
	require.NoError(t, err)
	arg := map[string]any{"id": 1, "callback": func() {}}
	for i := 0; i < 2; i++ {
		res, err := r.Route(context.Background(), Fact{Action: "ns.get", Argument: arg})
		require.NoError(t, err)
		assert.Equal(t, []string{"s1"}, res.ResourceIdentities)
	}
	assert.Equal(t, Stats{Matched: 2}, r.Stats())
}

func TestCacheKey(t *testing.T) {
	type inner struct {
		level int
	}
	type withInner struct {
		In   *inner
		Tags []string
	}
	testCases := []struct {
		name      string
		a, b      any
		wantEqual bool
	}{
		{name: "类型不同", a: 1, b: "1"},
		{name: "map 顺序无关", a: map[string]int{"a": 1, "b": 2}, b: map[string]int{"b": 2, "a": 1}, wantEqual: true},
		{name: "指针内容相同", a: &withInner{In: &inner{level: 1}}, b: &withInner{In: &inner{level: 1}}, wantEqual: true},
		{name: "指针内容不同", a: &withInner{In: &inner{level: 1}}, b: &withInner{In: &inner{level: 2}}},
		{name: "nil 切片和空切片", a: withInner{}, b: withInner{Tags: []string{}}},
		{name: "nil", a: nil, b: (*Offer)(nil), wantEqual: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ka, ok := cacheKey(Fact{Action: "ns.get", Argument: tc.a})
			require.True(t, ok)
			kb, ok := cacheKey(Fact{Action: "ns.get", Argument: tc.b})
			require.True(t, ok)
			assert.Equal(t, tc.wantEqual, ka == kb, "%s\n%s", ka, kb)
		})
	}

	type cyclic struct {
		Next *cyclic
	}
	c := &cyclic{}
	c.Next = c
	_, ok := cacheKey(Fact{Action: "ns.get", Argument: c})
	assert.False(t, ok)
}

func TestRouter_EmptyConfiguration(t *testing.T) {
	r, err := New(nil, WithCache(0))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		res, err := r.Route(context.Background(), Fact{Action: "ns.get", Argument: i})
		require.NoError(t, err)
		assert.True(t, res.Empty())
	}
	assert.Empty(t, r.Namespaces())
}

func TestFact_Namespace(t *testing.T) {
	testCases := []struct {
		action string
		want   string
	}{
		{action: "a.b.c", want: "a.b"},
		{action: "a.b", want: "a"},
		{action: "ab", want: ""},
		{action: ".b", want: ""},
	}
	for _, tc := range testCases {
		t.Run(tc.action, func(t *testing.T) {
			assert.Equal(t, tc.want, Fact{Action: tc.action}.Namespace())
		})
	}
}

package router

import (
	"log/slog"
	"strings"

	"github.com/ecodeclub/ekit/slice"
	"github.com/hashicorp/golang-lru/v2/simplelru"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/meoying/shardclient/internal/errs"
)

// DefaultSeparator 分片列表的默认分隔符
const DefaultSeparator = ","

// Descriptor 一条已经解析好的规则配置。Namespace 和 SQLAction 必须且只能设置一个
type Descriptor struct {
	Namespace          string
	SQLAction          string
	ShardingExpression string
	// Shards 以分隔符连接的分片 ID
	Shards string
	Merger string
}

type Option func(b *builder)

type builder struct {
	separator     string
	cacheCapacity int
	functions     map[string]Function
	knownShards   sets.Set[string]
	logger        *slog.Logger
}

// WithSeparator 分隔符里面的每一个字符都会被当作分隔符，例如 ",;"
func WithSeparator(sep string) Option {
	return func(b *builder) {
		b.separator = sep
	}
}

// WithCache 开启路由结果缓存，capacity 小于等于 0 时使用 DefaultCacheCapacity
func WithCache(capacity int) Option {
	return func(b *builder) {
		if capacity <= 0 {
			capacity = DefaultCacheCapacity
		}
		b.cacheCapacity = capacity
	}
}

// WithFunction 注册一个可以在分片表达式里面调用的函数
func WithFunction(name string, fn Function) Option {
	return func(b *builder) {
		b.functions[name] = fn
	}
}

// WithKnownShards 规则引用了不在 ids 里面的分片时，构造失败
func WithKnownShards(ids ...string) Option {
	return func(b *builder) {
		b.knownShards = sets.New[string](ids...)
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(b *builder) {
		b.logger = l
	}
}

// New 根据 descs 构造 Router，任何一条规则不合法都会返回 RoutingError
func New(descs []Descriptor, opts ...Option) (*Router, error) {
	b := &builder{
		separator: DefaultSeparator,
		functions: make(map[string]Function),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.separator == "" {
		return nil, errs.NewRoutingError("分隔符不能为空")
	}

	compiler := NewCompiler(b.functions)
	r := &Router{
		sequences: make(map[string]*Sequence, len(descs)),
		logger:    b.logger,
	}
	for i, d := range descs {
		if err := b.add(r, compiler, d); err != nil {
			return nil, errs.NewRoutingError("第 %d 条规则: %v", i, err)
		}
	}
	if b.cacheCapacity > 0 {
		cache, err := simplelru.NewLRU[string, Result](b.cacheCapacity, nil)
		if err != nil {
			return nil, err
		}
		r.cache = cache
	}
	return r, nil
}

func (b *builder) add(r *Router, compiler *Compiler, d Descriptor) error {
	ns, action := strings.TrimSpace(d.Namespace), strings.TrimSpace(d.SQLAction)
	if (ns == "") == (action == "") {
		return errs.NewRoutingError("namespace 和 sqlAction 必须且只能设置一个")
	}
	shards := b.split(d.Shards)
	if len(shards) == 0 {
		return errs.NewRoutingError("没有配置目标分片")
	}
	if b.knownShards != nil {
		for _, id := range shards {
			if !b.knownShards.Has(id) {
				return errs.NewUnknownShardError(id)
			}
		}
	}

	var expr Expression
	if text := strings.TrimSpace(d.ShardingExpression); text != "" {
		var err error
		expr, err = compiler.Compile(text)
		if err != nil {
			return err
		}
	}

	base := baseRule{
		expr:   expr,
		shards: shards,
		merger: strings.TrimSpace(d.Merger),
		logger: b.logger,
	}
	var (
		rule      Rule
		group     int
		namespace string
	)
	if action != "" {
		base.key = action
		rule = &actionRule{baseRule: base}
		group = groupAction
		namespace = Fact{Action: action}.Namespace()
	} else {
		base.key = ns
		rule = &namespaceRule{baseRule: base}
		group = groupNamespace
		namespace = ns
	}
	if expr != nil {
		// 带表达式的分组排在同类无表达式分组之前
		group--
	}

	seq, ok := r.sequences[namespace]
	if !ok {
		seq = &Sequence{}
		r.sequences[namespace] = seq
	}
	seq.add(group, rule)
	return nil
}

func (b *builder) split(shards string) []string {
	parts := strings.FieldsFunc(shards, func(r rune) bool {
		return strings.ContainsRune(b.separator, r)
	})
	parts = slice.Map(parts, func(idx int, src string) string {
		return strings.TrimSpace(src)
	})
	res := parts[:0]
	for _, p := range parts {
		if p != "" {
			res = append(res, p)
		}
	}
	return res
}

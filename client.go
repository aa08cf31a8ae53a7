package shardclient

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/meoying/shardclient/config"
	"github.com/meoying/shardclient/internal/datasource"
	"github.com/meoying/shardclient/internal/errs"
	"github.com/meoying/shardclient/internal/executor"
	"github.com/meoying/shardclient/internal/router"
	"github.com/meoying/shardclient/internal/shard"
	"github.com/meoying/shardclient/internal/statement"
	"github.com/meoying/shardclient/internal/transaction"
)

type (
	Shard             = shard.Shard
	Conn              = datasource.Conn
	StatementExecutor = statement.Executor
	Mapped            = statement.Mapped
	RoutingResult     = router.Result
	RouterStats       = router.Stats
	Transaction       = transaction.Transaction
	Function          = router.Function

	RoutingError              = errs.RoutingError
	ShardError                = errs.ShardError
	PartialExecutionFailure   = errs.PartialExecutionFailure
	TransactionPartialFailure = errs.TransactionPartialFailure
)

var (
	ErrRouting             = errs.ErrRouting
	ErrIncorrectResultSize = errs.ErrIncorrectResultSize
	ErrExecutionFailed     = errs.ErrExecutionFailed
	ErrNoDefaultDataSource = errs.ErrNoDefaultDataSource
	ErrNoRows              = errs.ErrNoRows
	ErrTimeout             = errs.ErrTimeout
	ErrTxDone              = errs.ErrTxDone
	ErrShardNotInTx        = errs.ErrShardNotInTx
)

// NewShard poolSize 小于等于 0 时使用默认大小
func NewShard(id string, db *sql.DB, poolSize int) *Shard {
	return shard.New(id, db, shard.WithPoolSize(poolSize))
}

// NewSQLExecutor 基于预先注册的 SQL 的 StatementExecutor
func NewSQLExecutor() *statement.SQLExecutor {
	return statement.NewSQLExecutor()
}

// Client 路由、分发、合并的入口。
// 构造之后需要调用 Start，退出前调用 Close。
type Client struct {
	registry    *shard.Registry
	router      *router.Router
	executor    *executor.Executor
	statements  StatementExecutor
	coordinator *transaction.Coordinator
	defaultDB   *sql.DB
	mergers     map[string]any

	slowThreshold time.Duration
	logger        *slog.Logger

	// closers 由 Client 打开、需要由 Client 关闭的资源
	closers []func() error
}

type options struct {
	logger        *slog.Logger
	defaultDB     *sql.DB
	mergers       map[string]any
	routerOpts    []router.Option
	executorOpts  []executor.Option
	slowThreshold time.Duration
}

func newOptions(opts []Option) *options {
	o := &options{
		logger:  slog.Default(),
		mergers: make(map[string]any),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type Option func(o *options)

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithDefaultDataSource 没有命中任何路由规则时使用的数据源
func WithDefaultDataSource(db *sql.DB) Option {
	return func(o *options) {
		o.defaultDB = db
	}
}

// WithMerger 注册一个可以在规则里面通过名字引用的合并策略，m 必须是 Merger[T]
func WithMerger(name string, m any) Option {
	return func(o *options) {
		o.mergers[name] = m
	}
}

func WithRouterCache(capacity int) Option {
	return func(o *options) {
		o.routerOpts = append(o.routerOpts, router.WithCache(capacity))
	}
}

func WithSeparator(sep string) Option {
	return func(o *options) {
		o.routerOpts = append(o.routerOpts, router.WithSeparator(sep))
	}
}

// WithFunction 注册分片表达式里面可以调用的函数
func WithFunction(name string, fn Function) Option {
	return func(o *options) {
		o.routerOpts = append(o.routerOpts, router.WithFunction(name, fn))
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.executorOpts = append(o.executorOpts, executor.WithTimeout(timeout))
	}
}

func WithShutdownTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.executorOpts = append(o.executorOpts, executor.WithShutdownTimeout(timeout))
	}
}

func WithPoolSize(size int) Option {
	return func(o *options) {
		o.executorOpts = append(o.executorOpts, executor.WithPoolSize(size))
	}
}

// WithSlowThreshold 执行时间超过 d 的操作会打印告警日志
func WithSlowThreshold(d time.Duration) Option {
	return func(o *options) {
		o.slowThreshold = d
	}
}

// New 使用已经打开的分片构造 Client，分片由调用者负责关闭
func New(shards []*Shard, rules []config.Rule, statements StatementExecutor, opts ...Option) (*Client, error) {
	o := newOptions(opts)
	registry, err := shard.NewRegistry(shards...)
	if err != nil {
		return nil, err
	}
	cfg := config.Config{Rules: rules}
	routerOpts := append([]router.Option{
		router.WithKnownShards(registry.IDs()...),
		router.WithLogger(o.logger),
	}, o.routerOpts...)
	r, err := router.New(cfg.Descriptors(), routerOpts...)
	if err != nil {
		return nil, err
	}
	executorOpts := append([]executor.Option{executor.WithLogger(o.logger)}, o.executorOpts...)
	return &Client{
		registry:      registry,
		router:        r,
		executor:      executor.New(registry, executorOpts...),
		statements:    statements,
		coordinator:   transaction.NewCoordinator(registry, o.logger),
		defaultDB:     o.defaultDB,
		mergers:       o.mergers,
		slowThreshold: o.slowThreshold,
		logger:        o.logger,
	}, nil
}

// defaultDataSourceID 默认数据源在日志和错误里面使用的名字
const defaultDataSourceID = "default"

// Open 按照配置打开所有分片和默认数据源，Close 的时候会一起关闭。
// opts 会覆盖配置里面的同名设置。
func Open(cfg *config.Config, statements StatementExecutor, opts ...Option) (*Client, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := newOptions(opts)

	var (
		closers []func() error
		shards  = make([]*Shard, 0, len(cfg.Shards))
	)
	closeAll := func() {
		for _, c := range closers {
			_ = c()
		}
	}
	for _, sc := range cfg.Shards {
		s, err := shard.Open(sc.ID, sc.Driver, sc.DSN, o.logger,
			shard.WithPoolSize(sc.PoolSize), shard.WithDescription(sc.Description))
		if err != nil {
			closeAll()
			return nil, err
		}
		closers = append(closers, s.DB.Close)
		shards = append(shards, s)
	}

	base := []Option{
		WithSeparator(cfg.Router.Separator),
		WithTimeout(cfg.Executor.Timeout()),
		WithShutdownTimeout(cfg.Executor.ShutdownTimeout()),
		WithSlowThreshold(cfg.Profile.SlowThreshold()),
	}
	if cfg.Router.Cache.Enabled {
		base = append(base, WithRouterCache(cfg.Router.Cache.Capacity))
	}
	if cfg.Default != nil {
		d, err := shard.Open(defaultDataSourceID, cfg.Default.Driver, cfg.Default.DSN, o.logger)
		if err != nil {
			closeAll()
			return nil, err
		}
		closers = append(closers, d.DB.Close)
		base = append(base, WithDefaultDataSource(d.DB))
	}

	c, err := New(shards, cfg.Rules, statements, append(base, opts...)...)
	if err != nil {
		closeAll()
		return nil, err
	}
	c.closers = closers
	return c, nil
}

func (c *Client) Start() {
	c.executor.Start()
}

// Close 关闭执行池，以及 Open 打开的数据源
func (c *Client) Close(ctx context.Context) error {
	var result error
	if err := c.executor.Stop(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	for _, closer := range c.closers {
		if err := closer(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}

// Route 只计算路由，不执行
func (c *Client) Route(ctx context.Context, action string, argument any) (RoutingResult, error) {
	return c.router.Route(ctx, router.Fact{Action: action, Argument: argument})
}

// PurgeRoutingCache 修改了规则依赖的外部状态之后需要调用
func (c *Client) PurgeRoutingCache() {
	c.router.Purge()
}

func (c *Client) RouterStats() RouterStats {
	return c.router.Stats()
}

// Ping 检查每一个分片
func (c *Client) Ping(ctx context.Context) map[string]error {
	return c.registry.Ping(ctx)
}

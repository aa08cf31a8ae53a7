package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/meoying/shardclient/internal/datasource"
	"github.com/meoying/shardclient/internal/errs"
	"github.com/meoying/shardclient/internal/shard"
)

const (
	DefaultTimeout         = 5000 * time.Millisecond
	DefaultShutdownTimeout = 3000 * time.Millisecond
)

// Operation 在某一个分片的连接上执行的操作
type Operation func(ctx context.Context, conn datasource.Conn) (any, error)

type Request struct {
	ShardID string
	Op      Operation
}

type Result struct {
	ShardID string
	Value   any
}

// Executor 把同一个操作并发地分发到多个分片上。
// 每个分片有自己独立的执行池，必须先 Start 才能使用，退出前调用 Stop。
type Executor struct {
	pools           map[string]*pool
	timeout         time.Duration
	shutdownTimeout time.Duration
	poolSize        int
	logger          *slog.Logger
}

type Option func(e *Executor)

// WithTimeout 一次并发执行的总超时时间，而不是单个分片的超时时间
func WithTimeout(timeout time.Duration) Option {
	return func(e *Executor) {
		e.timeout = timeout
	}
}

func WithShutdownTimeout(timeout time.Duration) Option {
	return func(e *Executor) {
		e.shutdownTimeout = timeout
	}
}

// WithPoolSize 所有分片统一使用 size 作为执行池大小，默认使用分片自己的 PoolSize
func WithPoolSize(size int) Option {
	return func(e *Executor) {
		e.poolSize = size
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = l
	}
}

func New(registry *shard.Registry, opts ...Option) *Executor {
	e := &Executor{
		timeout:         DefaultTimeout,
		shutdownTimeout: DefaultShutdownTimeout,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	ids := registry.IDs()
	e.pools = make(map[string]*pool, len(ids))
	for _, id := range ids {
		s, _ := registry.Get(id)
		size := s.PoolSize
		if e.poolSize > 0 {
			size = e.poolSize
		}
		if size <= 0 {
			size = shard.DefaultPoolSize
		}
		e.pools[id] = newPool(s, size)
	}
	return e
}

func (e *Executor) Start() {
	for _, p := range e.pools {
		p.start()
	}
}

// Stop 关闭所有分片的执行池，最多等待 shutdownTimeout，之后放弃仍在执行的任务
func (e *Executor) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, e.shutdownTimeout)
	defer cancel()
	var (
		mu     sync.Mutex
		result error
		wg     sync.WaitGroup
	)
	for _, p := range e.pools {
		wg.Add(1)
		go func(p *pool) {
			defer wg.Done()
			if err := p.stop(ctx); err != nil {
				e.logger.Warn("分片执行池未能在超时前退出", "shard", p.shard.ID, "错误", err)
				mu.Lock()
				result = multierror.Append(result, err)
				mu.Unlock()
			}
		}(p)
	}
	wg.Wait()
	return result
}

// Execute 执行 reqs，返回每个分片的结果，结果之间没有顺序保证。
// 只有一个请求时直接在调用者的 goroutine 上执行；
// 多个请求时任何一个分片失败或者超时，都返回包含全部失败原因的 PartialExecutionFailure，并且不返回任何结果。
func (e *Executor) Execute(ctx context.Context, reqs []Request) ([]Result, error) {
	switch len(reqs) {
	case 0:
		return nil, nil
	case 1:
		res, err := e.executeOne(ctx, reqs[0])
		if err != nil {
			return nil, err
		}
		return []Result{res}, nil
	default:
		return e.fanOut(ctx, reqs)
	}
}

func (e *Executor) executeOne(ctx context.Context, req Request) (Result, error) {
	p, ok := e.pools[req.ShardID]
	if !ok {
		return Result{}, errs.NewUnknownShardError(req.ShardID)
	}
	p.mu.RLock()
	err := p.check()
	p.mu.RUnlock()
	if err != nil {
		return Result{}, err
	}
	val, err := invoke(ctx, p.shard, req.Op)
	if err != nil {
		return Result{}, errs.NewShardError(req.ShardID, err)
	}
	return Result{ShardID: req.ShardID, Value: val}, nil
}

func (e *Executor) fanOut(ctx context.Context, reqs []Request) ([]Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var (
		mu      sync.Mutex
		sealed  bool
		done    = make([]bool, len(reqs))
		results = make([]Result, len(reqs))
		causes  []error
		wg      sync.WaitGroup
	)
	record := func(idx int, val any, err error) {
		mu.Lock()
		defer mu.Unlock()
		if sealed {
			return
		}
		done[idx] = true
		if err != nil {
			e.logger.ErrorContext(ctx, "分片执行失败", "shard", reqs[idx].ShardID, "错误", err)
			causes = append(causes, errs.NewShardError(reqs[idx].ShardID, err))
			return
		}
		results[idx] = Result{ShardID: reqs[idx].ShardID, Value: val}
	}

	for idx, req := range reqs {
		p, ok := e.pools[req.ShardID]
		if !ok {
			record(idx, nil, errs.NewUnknownShardError(req.ShardID))
			continue
		}
		wg.Add(1)
		go func(idx int, p *pool, op Operation) {
			defer wg.Done()
			val, err := p.run(ctx, func(ctx context.Context) (any, error) {
				return invoke(ctx, p.shard, op)
			})
			record(idx, val, err)
		}(idx, p, req.Op)
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
	}

	mu.Lock()
	defer mu.Unlock()
	sealed = true
	for idx, ok := range done {
		if ok {
			continue
		}
		cause := ctx.Err()
		if errors.Is(cause, context.DeadlineExceeded) {
			cause = fmt.Errorf("%w: %w", errs.ErrTimeout, cause)
		}
		e.logger.WarnContext(ctx, "分片执行未完成", "shard", reqs[idx].ShardID, "错误", cause)
		causes = append(causes, errs.NewShardError(reqs[idx].ShardID, cause))
	}
	if len(causes) > 0 {
		return nil, errs.NewPartialExecutionFailure(causes)
	}
	return results, nil
}

// invoke 获取连接并执行 op，无论成功、失败还是 panic 都会归还连接
func invoke(ctx context.Context, s *shard.Shard, op Operation) (val any, err error) {
	conn, release, err := datasource.Acquire(ctx, s.ID, s)
	if err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("分片 %s 执行时 panic: %v", s.ID, r)
		}
		if rerr := release(); rerr != nil && !errors.Is(rerr, sql.ErrConnDone) {
			err = multierror.Append(err, rerr).ErrorOrNil()
		}
	}()
	return op(ctx, conn)
}

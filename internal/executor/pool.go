package executor

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/meoying/shardclient/internal/errs"
	"github.com/meoying/shardclient/internal/shard"
)

const (
	stateCreated = iota
	stateRunning
	stateStopped
)

// pool 一个分片独占的执行池，最多同时执行 size 个任务。
// 一个分片慢不会占用其它分片的执行能力。
type pool struct {
	shard *shard.Shard
	size  int
	sem   *semaphore.Weighted
	wg    sync.WaitGroup

	mu    sync.RWMutex
	state int
}

func newPool(s *shard.Shard, size int) *pool {
	return &pool{
		shard: s,
		size:  size,
		sem:   semaphore.NewWeighted(int64(size)),
	}
}

func (p *pool) check() error {
	switch p.state {
	case stateCreated:
		return errs.ErrExecutorNotStarted
	case stateStopped:
		return errs.ErrPoolClosed
	default:
		return nil
	}
}

// run 在拿到执行名额之后执行 fn，等待名额的时候会响应 ctx 的取消
func (p *pool) run(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	p.mu.RLock()
	if err := p.check(); err != nil {
		p.mu.RUnlock()
		return nil, err
	}
	p.wg.Add(1)
	p.mu.RUnlock()
	defer p.wg.Done()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.sem.Release(1)
	return fn(ctx)
}

func (p *pool) start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == stateCreated {
		p.state = stateRunning
	}
}

// stop 不再接收新任务，并且等待已经提交的任务结束，ctx 到期之后放弃等待
func (p *pool) stop(ctx context.Context) error {
	p.mu.Lock()
	p.state = stateStopped
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errs.NewShardError(p.shard.ID, ctx.Err())
	}
}

package transaction

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"

	"go.uber.org/multierr"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/meoying/shardclient/internal/datasource"
	"github.com/meoying/shardclient/internal/errs"
	"github.com/meoying/shardclient/internal/shard"
)

type State int

const (
	StateNotStarted State = iota
	StateActive
	StateCommitting
	StateCommitted
	StateCommitFailed
	StateRollingBack
	StateRolledBack
	StateRollbackFailed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "NOT_STARTED"
	case StateActive:
		return "ACTIVE"
	case StateCommitting:
		return "COMMITTING"
	case StateCommitted:
		return "COMMITTED"
	case StateCommitFailed:
		return "COMMIT_FAILED"
	case StateRollingBack:
		return "ROLLING_BACK"
	case StateRolledBack:
		return "ROLLED_BACK"
	case StateRollbackFailed:
		return "ROLLBACK_FAILED"
	default:
		return "UNKNOWN"
	}
}

const (
	opBegin    = "begin"
	opCommit   = "commit"
	opRollback = "rollback"
)

// Coordinator 尽力而为的多分片事务。
// 没有两阶段提交，某个分片提交失败时其它分片仍然会提交，调用者通过 TransactionPartialFailure 得知哪些分片成功了。
type Coordinator struct {
	registry *shard.Registry
	logger   *slog.Logger
}

func NewCoordinator(registry *shard.Registry, l *slog.Logger) *Coordinator {
	if l == nil {
		l = slog.Default()
	}
	return &Coordinator{registry: registry, logger: l}
}

type participant struct {
	shardID string
	tx      *sql.Tx
}

// Begin 按照分片 ID 的字典序在每个分片上开启本地事务，shardIDs 为空时使用全部分片。
// 任何一个分片开启失败，已经开启的分片会按照相反的顺序回滚。
func (c *Coordinator) Begin(ctx context.Context, opts *sql.TxOptions, shardIDs ...string) (*Transaction, error) {
	ids := c.registry.IDs()
	if len(shardIDs) > 0 {
		ids = sets.List(sets.New[string](shardIDs...))
	}
	if len(ids) == 0 {
		return nil, errs.ErrNoParticipant
	}

	t := &Transaction{
		participants: make([]participant, 0, len(ids)),
		index:        make(map[string]int, len(ids)),
		logger:       c.logger,
	}
	for _, id := range ids {
		s, err := c.registry.Find(id)
		if err != nil {
			return nil, multierr.Append(err, t.abort())
		}
		tx, err := s.DB.BeginTx(ctx, opts)
		if err != nil {
			c.logger.ErrorContext(ctx, "分片开启事务失败", "shard", id, "错误", err)
			return nil, multierr.Append(errs.NewShardError(id, err), t.abort())
		}
		t.index[id] = len(t.participants)
		t.participants = append(t.participants, participant{shardID: id, tx: tx})
	}
	t.state = StateActive
	return t, nil
}

// Transaction 一个逻辑事务，包含每个参与分片上的本地事务
type Transaction struct {
	participants []participant
	index        map[string]int
	logger       *slog.Logger

	mu    sync.RWMutex
	state State
}

// Conn 返回事务在 shardID 上的句柄，事务不处于 ACTIVE 状态时返回 false
func (t *Transaction) Conn(shardID string) (datasource.Conn, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.state != StateActive {
		return nil, false
	}
	idx, ok := t.index[shardID]
	if !ok {
		return nil, false
	}
	return &txConn{tx: t.participants[idx].tx}, true
}

// Context 把事务绑定到 ctx 上，之后在这个 ctx 上的分片操作都会在事务内执行
func (t *Transaction) Context(ctx context.Context) context.Context {
	return datasource.WithTx(ctx, t)
}

func (t *Transaction) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Shards 参与事务的分片，按照开启事务的顺序
func (t *Transaction) Shards() []string {
	res := make([]string, 0, len(t.participants))
	for _, p := range t.participants {
		res = append(res, p.shardID)
	}
	return res
}

// Commit 按照开启事务相反的顺序逐个提交。一个分片失败不会影响其它分片的提交，
// 只要有分片失败就返回 TransactionPartialFailure，整体状态未知。
func (t *Transaction) Commit() error {
	if err := t.transit(StateActive, StateCommitting, opCommit); err != nil {
		return err
	}
	err := t.finish(opCommit, (*sql.Tx).Commit)
	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.state = StateCommitFailed
		return err
	}
	t.state = StateCommitted
	return nil
}

// Rollback 和 Commit 对称，每个分片都会尝试回滚
func (t *Transaction) Rollback() error {
	if err := t.transit(StateActive, StateRollingBack, opRollback); err != nil {
		return err
	}
	err := t.finish(opRollback, (*sql.Tx).Rollback)
	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.state = StateRollbackFailed
		return err
	}
	t.state = StateRolledBack
	return nil
}

func (t *Transaction) transit(from, to State, op string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != from {
		return errs.NewTxStateError(op, t.state.String())
	}
	t.state = to
	return nil
}

func (t *Transaction) finish(op string, fn func(tx *sql.Tx) error) error {
	var (
		succeeded []string
		causes    []error
	)
	for i := len(t.participants) - 1; i >= 0; i-- {
		p := t.participants[i]
		if err := fn(p.tx); err != nil {
			t.logger.Error("分片事务结束失败", "op", op, "shard", p.shardID, "错误", err)
			causes = append(causes, errs.NewShardError(p.shardID, err))
			continue
		}
		succeeded = append(succeeded, p.shardID)
	}
	if len(causes) > 0 {
		return errs.NewTransactionPartialFailure(op, succeeded, causes)
	}
	return nil
}

// abort 开启事务失败时回滚已经开启的分片
func (t *Transaction) abort() error {
	if len(t.participants) == 0 {
		return nil
	}
	t.state = StateRollingBack
	err := t.finish(opBegin, (*sql.Tx).Rollback)
	if err != nil {
		t.state = StateRollbackFailed
		return err
	}
	t.state = StateRolledBack
	return nil
}

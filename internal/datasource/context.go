package datasource

import (
	"context"
	"database/sql"

	"github.com/meoying/shardclient/internal/errs"
)

// Conn 单个分片上的执行句柄，*sql.Conn 和 *sql.Tx 都满足这个接口
type Conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// TxBinding 绑定在 context 上的跨分片事务
type TxBinding interface {
	// Conn 返回事务在 shardID 上的句柄，分片没有参与事务时返回 false
	Conn(shardID string) (Conn, bool)
}

type txKey struct{}

func WithTx(ctx context.Context, b TxBinding) context.Context {
	return context.WithValue(ctx, txKey{}, b)
}

func TxFromContext(ctx context.Context) (TxBinding, bool) {
	b, ok := ctx.Value(txKey{}).(TxBinding)
	return b, ok && b != nil
}

// ConnProvider 能够借出连接的分片
type ConnProvider interface {
	Conn(ctx context.Context) (*sql.Conn, error)
}

// Acquire 获取 shardID 上的执行句柄。
// ctx 上绑定了事务时只能使用事务在该分片上的句柄，分片不在事务里（或者事务已经结束）返回 ErrShardNotInTx；
// 没有绑定事务时从 p 借出一个连接，release 负责归还。
func Acquire(ctx context.Context, shardID string, p ConnProvider) (conn Conn, release func() error, err error) {
	if b, ok := TxFromContext(ctx); ok {
		c, ok := b.Conn(shardID)
		if !ok {
			return nil, nil, errs.NewShardNotInTxError(shardID)
		}
		return c, func() error { return nil }, nil
	}
	c, err := p.Conn(ctx)
	if err != nil {
		return nil, nil, err
	}
	return c, c.Close, nil
}

package transaction

import (
	"context"
	"database/sql"

	"github.com/meoying/shardclient/internal/datasource"
)

var _ datasource.Conn = &txConn{}

// txConn 把 *sql.Tx 伪装成 datasource.Conn，
// 分片上的操作只能执行语句，提交和回滚由 Transaction 统一负责
type txConn struct {
	tx *sql.Tx
}

func (t *txConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, query, args...)
}

func (t *txConn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, query, args...)
}

func (t *txConn) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, query, args...)
}

func (t *txConn) PrepareContext(ctx context.Context, query string) (*sql.Stmt, error) {
	return t.tx.PrepareContext(ctx, query)
}

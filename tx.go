package shardclient

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/multierr"
)

// BeginTx 在 shardIDs 上开启尽力而为的事务，shardIDs 为空时包含全部分片。
// 使用 tx.Context(ctx) 返回的 context 执行的操作都会在事务内执行。
func (c *Client) BeginTx(ctx context.Context, opts *sql.TxOptions, shardIDs ...string) (*Transaction, error) {
	return c.coordinator.Begin(ctx, opts, shardIDs...)
}

// InTx 在全部分片的事务里面执行 fn，fn 返回 error 或者 panic 时回滚，否则提交
func (c *Client) InTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	tx, err := c.coordinator.Begin(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = multierr.Append(fmt.Errorf("事务内 panic: %v", r), tx.Rollback())
		}
	}()
	if err = fn(tx.Context(ctx)); err != nil {
		return multierr.Append(err, tx.Rollback())
	}
	return tx.Commit()
}

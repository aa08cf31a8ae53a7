package statement

import (
	"context"

	"github.com/meoying/shardclient/internal/datasource"
)

//go:generate mockgen -source=./types.go -destination=mocks/statement.mock.go -package=stmtmocks -typed Executor

// Executor 在一个已经拿到的分片连接上执行 action。
// 写操作返回影响的行数 int64，查询返回 Mapped.Scan 的结果。
type Executor interface {
	Execute(ctx context.Context, conn datasource.Conn, action string, argument any) (any, error)
}

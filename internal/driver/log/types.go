package log

import (
	"context"
	"database/sql/driver"
	"log/slog"
)

type logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)

	DebugContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)
}

// NewConnector 用 slog 包装驱动 d，所有建立连接、执行语句、事务提交回滚都会打印日志。
// 如果 d 没有实现 driver.DriverContext，会退化为每次 Connect 都调用 d.Open(dsn)。
func NewConnector(d driver.Driver, dsn string, l *slog.Logger) (driver.Connector, error) {
	if l == nil {
		l = slog.Default()
	}
	return newDriver(d, l).OpenConnector(dsn)
}

package testsuite

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/ecodeclub/ekit/retry"
	_ "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/require"
)

const (
	// MYSQLDSNTmpl 直接连接MYSQL数据库时所用的DSN
	MYSQLDSNTmpl = "root:root@tcp(localhost:13306)/%s"
)

type Order struct {
	UserId  int64
	OrderId int64
	Content string
	Amount  float64
}

func CreateDatabases(t *testing.T, db *sql.DB, names ...string) {
	t.Helper()
	for _, name := range names {
		_, err := db.Exec(fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", name))
		require.NoError(t, err, fmt.Errorf("创建库=%s失败", name))
	}
}

func CreateTables(t *testing.T, db *sql.DB) {
	t.Helper()
	_, err := db.Exec("CREATE TABLE IF NOT EXISTS `order` " +
		"(" +
		"user_id BIGINT NOT NULL," +
		"order_id BIGINT NOT NULL," +
		"content TEXT," +
		"amount DOUBLE," +
		"PRIMARY KEY (user_id)" +
		") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;")
	require.NoError(t, err, "创建表 order 失败")
}

func ClearTables(t *testing.T, db *sql.DB) {
	t.Helper()
	_, err := db.Exec("DELETE FROM `order`")
	require.NoError(t, err)
}

// WaitForMySQLSetup 检查MySQL是否启动并返回一个可用的*sql.DB对象
func WaitForMySQLSetup(dsn string) *sql.DB {
	sqlDB, err := sql.Open("mysql", dsn)
	if err != nil {
		panic(err)
	}
	const maxInterval = 10 * time.Second
	const maxRetries = 10
	strategy, err := retry.NewExponentialBackoffRetryStrategy(time.Second, maxInterval, maxRetries)
	if err != nil {
		panic(err)
	}
	const timeout = 5 * time.Second
	for {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err = sqlDB.PingContext(ctx)
		cancel()
		if err == nil {
			break
		}
		next, ok := strategy.Next()
		if !ok {
			panic("WaitForMySQLSetup 重试失败......")
		}
		time.Sleep(next)
	}
	return sqlDB
}

func ScanOrder(rows *sql.Rows) (Order, error) {
	var o Order
	err := rows.Scan(&o.UserId, &o.OrderId, &o.Content, &o.Amount)
	return o, err
}

func OrderArgs(argument any) ([]any, error) {
	o, ok := argument.(Order)
	if !ok {
		return nil, fmt.Errorf("参数类型错误 %T", argument)
	}
	return []any{o.UserId, o.OrderId, o.Content, o.Amount}, nil
}

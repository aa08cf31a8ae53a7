package shard

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"

	logdriver "github.com/meoying/shardclient/internal/driver/log"
)

// DefaultPoolSize 分片默认的执行池大小
var DefaultPoolSize = runtime.NumCPU() * 5

// Shard 数据集的一个分区。
// 创建之后不可修改，可以并发读。
type Shard struct {
	ID          string
	DB          *sql.DB
	PoolSize    int
	Description string
}

func New(id string, db *sql.DB, opts ...Option) *Shard {
	s := &Shard{
		ID:       id,
		DB:       db,
		PoolSize: DefaultPoolSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.PoolSize <= 0 {
		s.PoolSize = DefaultPoolSize
	}
	return s
}

type Option func(s *Shard)

func WithPoolSize(size int) Option {
	return func(s *Shard) {
		s.PoolSize = size
	}
}

func WithDescription(desc string) Option {
	return func(s *Shard) {
		s.Description = desc
	}
}

// Conn 从分片的连接池里面拿到一个独占的连接，调用者负责 Close
func (s *Shard) Conn(ctx context.Context) (*sql.Conn, error) {
	return s.DB.Conn(ctx)
}

func (s *Shard) String() string {
	return fmt.Sprintf("Shard{id=%s, poolSize=%d, description=%s}", s.ID, s.PoolSize, s.Description)
}

// Open 按照驱动名字和 DSN 打开一个分片，所有的连接都会带上分片 ID 打印日志
func Open(id, driverName, dsn string, l *slog.Logger, opts ...Option) (*Shard, error) {
	d, err := driverOf(driverName)
	if err != nil {
		return nil, err
	}
	if l == nil {
		l = slog.Default()
	}
	c, err := logdriver.NewConnector(d, dsn, l.With("shard", id))
	if err != nil {
		return nil, fmt.Errorf("打开分片 %s 失败: %w", id, err)
	}
	s := New(id, sql.OpenDB(c), opts...)
	s.DB.SetMaxOpenConns(s.PoolSize)
	return s, nil
}

func driverOf(name string) (driver.Driver, error) {
	switch name {
	case "mysql", "":
		return &mysql.MySQLDriver{}, nil
	case "sqlite3":
		return &sqlite3.SQLiteDriver{}, nil
	default:
		return nil, fmt.Errorf("不支持的驱动 %s", name)
	}
}

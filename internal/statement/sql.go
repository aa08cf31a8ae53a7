package statement

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/meoying/shardclient/internal/datasource"
	"github.com/meoying/shardclient/internal/errs"
)

var _ Executor = &SQLExecutor{}

// Mapped 一个 action 对应的 SQL
type Mapped struct {
	SQL string
	// Args 从参数里面提取 SQL 的参数，为 nil 时参数本身作为唯一的 SQL 参数，参数为 nil 时没有 SQL 参数
	Args func(argument any) ([]any, error)
	// Scan 为 nil 表示这是一个写操作
	Scan func(rows *sql.Rows) (any, error)
}

// SQLExecutor 按照 action 查找注册好的 SQL 并执行
type SQLExecutor struct {
	mu         sync.RWMutex
	statements map[string]Mapped
}

func NewSQLExecutor() *SQLExecutor {
	return &SQLExecutor{statements: make(map[string]Mapped)}
}

// Register 注册 action，重复注册会返回错误
func (s *SQLExecutor) Register(action string, m Mapped) error {
	if action == "" {
		return errs.ErrEmptyAction
	}
	if m.SQL == "" {
		return fmt.Errorf("action %s 的 SQL 不能为空", action)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.statements[action]; ok {
		return fmt.Errorf("action %s 重复注册", action)
	}
	s.statements[action] = m
	return nil
}

func (s *SQLExecutor) Execute(ctx context.Context, conn datasource.Conn, action string, argument any) (any, error) {
	s.mu.RLock()
	m, ok := s.statements[action]
	s.mu.RUnlock()
	if !ok {
		return nil, errs.NewUnknownActionError(action)
	}
	args, err := m.args(argument)
	if err != nil {
		return nil, errs.NewExecutionFailedError(action, errors.Wrap(err, "解析参数失败"))
	}
	if m.Scan == nil {
		res, err := conn.ExecContext(ctx, m.SQL, args...)
		if err != nil {
			return nil, errs.NewExecutionFailedError(action, errors.Wrap(err, "执行语句失败"))
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, errs.NewExecutionFailedError(action, errors.Wrap(err, "获取影响行数失败"))
		}
		return affected, nil
	}

	rows, err := conn.QueryContext(ctx, m.SQL, args...)
	if err != nil {
		return nil, errs.NewExecutionFailedError(action, errors.Wrap(err, "查询失败"))
	}
	defer rows.Close()
	val, err := m.Scan(rows)
	if err == nil {
		err = rows.Err()
	}
	if err != nil {
		return nil, errs.NewExecutionFailedError(action, errors.Wrap(err, "读取结果失败"))
	}
	return val, nil
}

func (m Mapped) args(argument any) ([]any, error) {
	if m.Args != nil {
		return m.Args(argument)
	}
	if argument == nil {
		return nil, nil
	}
	return []any{argument}, nil
}

// ScanList 把每一行转换成 E，返回 []E
func ScanList[E any](scan func(rows *sql.Rows) (E, error)) func(rows *sql.Rows) (any, error) {
	return func(rows *sql.Rows) (any, error) {
		res := make([]E, 0)
		for rows.Next() {
			e, err := scan(rows)
			if err != nil {
				return nil, err
			}
			res = append(res, e)
		}
		return res, nil
	}
}

// ScanMap 把每一行转换成一个键值对，返回 map[K]V
func ScanMap[K comparable, V any](scan func(rows *sql.Rows) (K, V, error)) func(rows *sql.Rows) (any, error) {
	return func(rows *sql.Rows) (any, error) {
		res := make(map[K]V)
		for rows.Next() {
			k, v, err := scan(rows)
			if err != nil {
				return nil, err
			}
			res[k] = v
		}
		return res, nil
	}
}

// ScanOne 只读取第一行，没有数据时返回 nil
func ScanOne[E any](scan func(rows *sql.Rows) (E, error)) func(rows *sql.Rows) (any, error) {
	return func(rows *sql.Rows) (any, error) {
		if !rows.Next() {
			return nil, nil
		}
		return scan(rows)
	}
}

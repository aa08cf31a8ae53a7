package log

import (
	"context"
	"database/sql/driver"
)

type stmtWrapper struct {
	stmt   driver.Stmt
	logger logger
	query  string
}

func (s *stmtWrapper) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	var (
		result driver.Result
		err    error
	)
	if ec, ok := s.stmt.(driver.StmtExecContext); ok {
		result, err = ec.ExecContext(ctx, args)
	} else {
		var vals []driver.Value
		vals, err = namedValuesToValues(args)
		if err == nil {
			//nolint:staticcheck
			result, err = s.stmt.Exec(vals)
		}
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "执行预编译语句失败", "sql", s.query, "错误", err)
		return nil, err
	}
	s.logger.DebugContext(ctx, "执行预编译语句", "sql", s.query, "args", args)
	return &resultWrapper{result: result, logger: s.logger, query: s.query}, nil
}

func (s *stmtWrapper) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	var (
		rows driver.Rows
		err  error
	)
	if qc, ok := s.stmt.(driver.StmtQueryContext); ok {
		rows, err = qc.QueryContext(ctx, args)
	} else {
		var vals []driver.Value
		vals, err = namedValuesToValues(args)
		if err == nil {
			//nolint:staticcheck
			rows, err = s.stmt.Query(vals)
		}
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "预编译查询失败", "sql", s.query, "错误", err)
		return nil, err
	}
	s.logger.DebugContext(ctx, "预编译查询", "sql", s.query, "args", args)
	return &rowsWrapper{rows: rows, logger: s.logger, query: s.query}, nil
}

func (s *stmtWrapper) CheckNamedValue(value *driver.NamedValue) error {
	if nc, ok := s.stmt.(driver.NamedValueChecker); ok {
		return nc.CheckNamedValue(value)
	}
	return driver.ErrSkip
}

func (s *stmtWrapper) Exec(args []driver.Value) (driver.Result, error) {
	//nolint:staticcheck
	return s.stmt.Exec(args)
}

func (s *stmtWrapper) Query(args []driver.Value) (driver.Rows, error) {
	//nolint:staticcheck
	return s.stmt.Query(args)
}

func (s *stmtWrapper) NumInput() int {
	return s.stmt.NumInput()
}

func (s *stmtWrapper) Close() error {
	err := s.stmt.Close()
	if err != nil {
		s.logger.Error("关闭预编译语句失败", "错误", err)
		return err
	}
	return nil
}

func namedValuesToValues(named []driver.NamedValue) ([]driver.Value, error) {
	res := make([]driver.Value, 0, len(named))
	for _, n := range named {
		if n.Name != "" {
			return nil, driver.ErrSkip
		}
		res = append(res, n.Value)
	}
	return res, nil
}

package log

import (
	"database/sql/driver"
	"errors"
	"io"
)

// rowsWrapper 在关闭的时候输出读取的行数
type rowsWrapper struct {
	rows   driver.Rows
	logger logger
	query  string
	count  int
}

func (r *rowsWrapper) Columns() []string {
	return r.rows.Columns()
}

func (r *rowsWrapper) Close() error {
	if err := r.rows.Close(); err != nil {
		r.logger.Error("关闭结果集失败", "sql", r.query, "错误", err)
		return err
	}
	r.logger.Debug("读取结果集", "sql", r.query, "rows", r.count)
	return nil
}

func (r *rowsWrapper) Next(dest []driver.Value) error {
	err := r.rows.Next(dest)
	switch {
	case err == nil:
		r.count++
	case !errors.Is(err, io.EOF):
		r.logger.Error("读取下一行失败", "sql", r.query, "错误", err)
	}
	return err
}

func (r *rowsWrapper) HasNextResultSet() bool {
	rs, ok := r.rows.(driver.RowsNextResultSet)
	return ok && rs.HasNextResultSet()
}

func (r *rowsWrapper) NextResultSet() error {
	rs, ok := r.rows.(driver.RowsNextResultSet)
	if !ok {
		return io.EOF
	}
	return rs.NextResultSet()
}

package log

import "database/sql/driver"

type resultWrapper struct {
	result driver.Result
	logger logger
	query  string
}

func (r *resultWrapper) LastInsertId() (int64, error) {
	id, err := r.result.LastInsertId()
	if err != nil {
		r.logger.Error("获取 LastInsertId 失败", "sql", r.query, "错误", err)
		return 0, err
	}
	r.logger.Debug("自增主键", "sql", r.query, "id", id)
	return id, nil
}

func (r *resultWrapper) RowsAffected() (int64, error) {
	n, err := r.result.RowsAffected()
	if err != nil {
		r.logger.Error("获取 RowsAffected 失败", "sql", r.query, "错误", err)
		return 0, err
	}
	r.logger.Debug("影响行数", "sql", r.query, "rows", n)
	return n, nil
}

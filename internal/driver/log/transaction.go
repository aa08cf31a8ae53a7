package log

import (
	"database/sql/driver"
	"time"
)

// txWrapper 记录事务从开启到结束的耗时
type txWrapper struct {
	tx       driver.Tx
	logger   logger
	readOnly bool
	start    time.Time
}

func newTx(tx driver.Tx, l logger, opts driver.TxOptions) *txWrapper {
	return &txWrapper{tx: tx, logger: l, readOnly: opts.ReadOnly, start: time.Now()}
}

func (t *txWrapper) Commit() error {
	return t.end(t.tx.Commit, "事务提交成功", "提交事务失败")
}

func (t *txWrapper) Rollback() error {
	return t.end(t.tx.Rollback, "事务回滚成功", "回滚事务失败")
}

func (t *txWrapper) end(fn func() error, okMsg, failMsg string) error {
	elapsed := time.Since(t.start)
	if err := fn(); err != nil {
		t.logger.Error(failMsg, "readOnly", t.readOnly, "elapsed", elapsed, "错误", err)
		return err
	}
	t.logger.Info(okMsg, "readOnly", t.readOnly, "elapsed", elapsed)
	return nil
}

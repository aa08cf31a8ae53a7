package errs

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"
)

var (
	ErrRouting             = errors.New("路由失败")
	ErrEmptyAction         = errors.New("action 不能为空")
	ErrIncorrectResultSize = errors.New("结果数量不正确")
	ErrExecutionFailed     = errors.New("执行失败")
	ErrNoDefaultDataSource = errors.New("未配置默认数据源")
	ErrPoolClosed          = errors.New("分片执行池已关闭")
	ErrExecutorNotStarted  = errors.New("执行器未启动")
	ErrTxDone              = errors.New("事务已经结束")
	ErrNoParticipant       = errors.New("事务没有参与的分片")
	ErrNoRows              = errors.New("没有数据")
	ErrTimeout             = errors.New("分片执行超时")
	ErrShardNotInTx        = errors.New("分片没有参与当前事务")
)

// RoutingError 路由输入或者路由规则本身不合法，不应该重试
type RoutingError struct {
	Reason string
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("%s: %s", ErrRouting.Error(), e.Reason)
}

func (e *RoutingError) Is(target error) bool {
	return target == ErrRouting
}

func NewRoutingError(format string, args ...any) error {
	return &RoutingError{Reason: fmt.Sprintf(format, args...)}
}

func NewDuplicateShardError(id string) error {
	return NewRoutingError("分片 %s 重复定义", id)
}

func NewUnknownShardError(id string) error {
	return NewRoutingError("未发现目标分片 %s", id)
}

func NewInvalidExpressionError(expr string, err error) error {
	return &RoutingError{Reason: fmt.Sprintf("无法解析分片表达式 %q: %v", expr, err)}
}

// ShardError 记录某一个分片上的失败
type ShardError struct {
	ShardID string
	Err     error
}

func (e *ShardError) Error() string {
	return fmt.Sprintf("分片 %s: %v", e.ShardID, e.Err)
}

func (e *ShardError) Unwrap() error {
	return e.Err
}

func NewShardError(shardID string, err error) error {
	return &ShardError{ShardID: shardID, Err: err}
}

// PartialExecutionFailure 并发执行时，至少有一个分片失败或者超时。
// Causes 里面包含了所有的失败原因，而不仅仅是第一个。
type PartialExecutionFailure struct {
	Causes []error
}

func (e *PartialExecutionFailure) Error() string {
	return fmt.Sprintf("在 %d 个分片上执行失败: %v", len(e.Causes), multierr.Combine(e.Causes...))
}

func (e *PartialExecutionFailure) Unwrap() []error {
	return e.Causes
}

func NewPartialExecutionFailure(causes []error) error {
	return &PartialExecutionFailure{Causes: causes}
}

// TxStateUnknown 部分分片提交（回滚）成功，部分失败，整体状态未知
const TxStateUnknown = "unknown"

// TransactionPartialFailure 尽力而为的事务在某些分片上提交或者回滚失败
type TransactionPartialFailure struct {
	Op    string
	State string
	// Succeeded 成功完成 Op 的分片
	Succeeded []string
	Causes    []error
}

func (e *TransactionPartialFailure) Error() string {
	return fmt.Sprintf("事务 %s 部分失败, 状态 %s, 成功分片 [%s]: %v",
		e.Op, e.State, strings.Join(e.Succeeded, ","), multierr.Combine(e.Causes...))
}

func (e *TransactionPartialFailure) Unwrap() []error {
	return e.Causes
}

func NewTransactionPartialFailure(op string, succeeded []string, causes []error) error {
	return &TransactionPartialFailure{
		Op:        op,
		State:     TxStateUnknown,
		Succeeded: succeeded,
		Causes:    causes,
	}
}

func NewIncorrectResultSizeError(expected, actual int) error {
	return fmt.Errorf("%w: 期望 %d, 实际 %d", ErrIncorrectResultSize, expected, actual)
}

func NewExecutionFailedError(action string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrExecutionFailed, action, err)
}

func NewUnknownActionError(action string) error {
	return fmt.Errorf("%w: 未注册的 action %s", ErrExecutionFailed, action)
}

func NewUnexpectedResultTypeError(action string, want string, got any) error {
	return fmt.Errorf("action %s 返回了非预期的结果类型, 期望 %s, 实际 %T", action, want, got)
}

func NewAffectedRowsMismatchError(action string, required, actual int64) error {
	return fmt.Errorf("action %s 影响行数不符, 期望 %d, 实际 %d", action, required, actual)
}

func NewUnknownMergerError(name string) error {
	return fmt.Errorf("未注册的 merger %s", name)
}

func NewMergerTypeError(name string, want string) error {
	return fmt.Errorf("merger %s 无法合并 %s 类型的结果", name, want)
}

func NewTxStateError(op string, state string) error {
	return fmt.Errorf("%w: 无法在 %s 状态下执行 %s", ErrTxDone, state, op)
}

func NewShardNotInTxError(shardID string) error {
	return fmt.Errorf("%w: %s", ErrShardNotInTx, shardID)
}

func NewMultiShardEntityError(entity any, shards []string) error {
	return NewRoutingError("批量插入的实体 %v 命中了多个分片 %v", entity, shards)
}

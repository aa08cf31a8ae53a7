package router

import (
	"context"
	"log/slog"
	"strings"
)

// Fact 一次路由的输入。Action 是语句的全限定标识，形如 namespace.statement
type Fact struct {
	Action   string
	Argument any
}

// Namespace 返回 Action 最后一个 "." 之前的部分，没有 "." 时返回空字符串
func (f Fact) Namespace() string {
	idx := strings.LastIndexByte(f.Action, '.')
	if idx < 0 {
		return ""
	}
	return f.Action[:idx]
}

// Rule 一条路由规则
type Rule interface {
	// Key 规则所在分组里面的查找键，即 SQL action 或者 namespace
	Key() string
	// Match 判断规则是否命中。表达式求值失败视为没有命中，并记录日志
	Match(ctx context.Context, fact Fact) bool
	Shards() []string
	Merger() string
}

type baseRule struct {
	key    string
	expr   Expression
	shards []string
	merger string
	logger *slog.Logger
}

func (r *baseRule) Key() string {
	return r.key
}

func (r *baseRule) Shards() []string {
	return r.shards
}

func (r *baseRule) Merger() string {
	return r.merger
}

func (r *baseRule) matchExpression(ctx context.Context, fact Fact) bool {
	if r.expr == nil {
		return true
	}
	ok, err := r.expr.Apply(ctx, fact.Argument)
	if err != nil {
		r.logger.WarnContext(ctx, "分片表达式求值失败，视为未命中",
			"action", fact.Action,
			"expression", r.expr.String(),
			"错误", err)
		return false
	}
	return ok
}

// actionRule 绑定到某一个具体的 SQL action
type actionRule struct {
	baseRule
}

func (r *actionRule) Match(ctx context.Context, fact Fact) bool {
	return fact.Action == r.key && r.matchExpression(ctx, fact)
}

// namespaceRule 绑定到一个 namespace 下面的全部 action
type namespaceRule struct {
	baseRule
}

func (r *namespaceRule) Match(ctx context.Context, fact Fact) bool {
	return fact.Namespace() == r.key && r.matchExpression(ctx, fact)
}

package shardclient

import (
	"context"
	"database/sql"
	"reflect"
	"slices"
	"time"

	"github.com/ecodeclub/ekit/slice"

	"github.com/meoying/shardclient/internal/datasource"
	"github.com/meoying/shardclient/internal/errs"
	"github.com/meoying/shardclient/internal/executor"
	"github.com/meoying/shardclient/internal/merger"
	"github.com/meoying/shardclient/internal/router"
)

// dispatch 路由 action，然后在默认数据源、单个分片或者多个分片上执行，返回每个目标的原始结果
func (c *Client) dispatch(ctx context.Context, action string, argument any) (router.Result, []any, error) {
	defer c.profile(ctx, action, argument, time.Now())
	route, err := c.router.Route(ctx, router.Fact{Action: action, Argument: argument})
	if err != nil {
		return route, nil, err
	}
	if route.Empty() {
		val, err := c.executeDefault(ctx, action, argument)
		if err != nil {
			return route, nil, err
		}
		return route, []any{val}, nil
	}
	reqs := slice.Map(route.ResourceIdentities, func(idx int, id string) executor.Request {
		return executor.Request{ShardID: id, Op: c.operation(action, argument)}
	})
	results, err := c.executor.Execute(ctx, reqs)
	if err != nil {
		return route, nil, err
	}
	return route, slice.Map(results, func(idx int, src executor.Result) any {
		return src.Value
	}), nil
}

func (c *Client) operation(action string, argument any) executor.Operation {
	return func(ctx context.Context, conn datasource.Conn) (any, error) {
		return c.statements.Execute(ctx, conn, action, argument)
	}
}

func (c *Client) executeDefault(ctx context.Context, action string, argument any) (any, error) {
	conn, err := c.defaultConn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return c.statements.Execute(ctx, conn, action, argument)
}

// defaultConn 默认数据源不参与跨分片事务，ctx 上绑定了事务时返回 ErrShardNotInTx
func (c *Client) defaultConn(ctx context.Context) (*sql.Conn, error) {
	if c.defaultDB == nil {
		return nil, errs.ErrNoDefaultDataSource
	}
	if _, ok := datasource.TxFromContext(ctx); ok {
		return nil, errs.NewShardNotInTxError(defaultDataSourceID)
	}
	return c.defaultDB.Conn(ctx)
}

func (c *Client) profile(ctx context.Context, action string, argument any, start time.Time) {
	if c.slowThreshold <= 0 {
		return
	}
	if elapsed := time.Since(start); elapsed > c.slowThreshold {
		c.logger.WarnContext(ctx, "执行时间过长",
			"action", action,
			"argument", argument,
			"elapsed", elapsed)
	}
}

// Insert 返回所有目标上插入的行数之和
func (c *Client) Insert(ctx context.Context, action string, argument any) (int64, error) {
	return c.write(ctx, action, argument)
}

// Update 返回所有目标上更新的行数之和
func (c *Client) Update(ctx context.Context, action string, argument any) (int64, error) {
	return c.write(ctx, action, argument)
}

// Delete 返回所有目标上删除的行数之和
func (c *Client) Delete(ctx context.Context, action string, argument any) (int64, error) {
	return c.write(ctx, action, argument)
}

// UpdateExpect 更新的总行数必须等于 required
func (c *Client) UpdateExpect(ctx context.Context, action string, argument any, required int64) error {
	return c.writeExpect(ctx, action, argument, required)
}

// DeleteExpect 删除的总行数必须等于 required
func (c *Client) DeleteExpect(ctx context.Context, action string, argument any, required int64) error {
	return c.writeExpect(ctx, action, argument, required)
}

func (c *Client) writeExpect(ctx context.Context, action string, argument any, required int64) error {
	affected, err := c.write(ctx, action, argument)
	if err != nil {
		return err
	}
	if affected != required {
		return errs.NewAffectedRowsMismatchError(action, required, affected)
	}
	return nil
}

func (c *Client) write(ctx context.Context, action string, argument any) (int64, error) {
	_, raws, err := c.dispatch(ctx, action, argument)
	if err != nil {
		return 0, err
	}
	// 写操作总是累加影响的行数，不使用规则上的 merger
	return mergeResults[int64](c, action, router.Result{}, raws, merger.Sum[int64]())
}

// QueryForList 默认把每个目标返回的列表拼接起来，规则上配置了 merger 时使用对应的合并策略
func QueryForList[E any](ctx context.Context, c *Client, action string, argument any) ([]E, error) {
	route, raws, err := c.dispatch(ctx, action, argument)
	if err != nil {
		return nil, err
	}
	return mergeResults[[]E](c, action, route, raws, merger.Concat[E]())
}

// QueryForSortedList 每个目标返回的列表已经按照 cmp 排好序，合并之后全局有序
func QueryForSortedList[E any](ctx context.Context, c *Client, action string, argument any, cmp func(a, b E) int) ([]E, error) {
	route, raws, err := c.dispatch(ctx, action, argument)
	if err != nil {
		return nil, err
	}
	return mergeResults[[]E](c, action, route, raws, merger.Sorted(cmp))
}

// QueryForMap key 冲突时后面的分片覆盖前面的分片
func QueryForMap[K comparable, V any](ctx context.Context, c *Client, action string, argument any) (map[K]V, error) {
	route, raws, err := c.dispatch(ctx, action, argument)
	if err != nil {
		return nil, err
	}
	return mergeResults[map[K]V](c, action, route, raws, merger.MapUnion[K, V]())
}

// QueryForObject 按照唯一标识查询一个对象。
// 没有数据时返回 ErrNoRows，多个分片都返回了数据时返回 ErrIncorrectResultSize。
// 规则上配置的 merger 对对象查询不生效，始终使用 FirstNonNull。
func QueryForObject[T any](ctx context.Context, c *Client, action string, argument any) (T, error) {
	var zero T
	_, raws, err := c.dispatch(ctx, action, argument)
	if err != nil {
		return zero, err
	}
	if !slices.ContainsFunc(raws, func(raw any) bool { return !merger.IsNil(raw) }) {
		return zero, errs.ErrNoRows
	}
	res, err := mergeResults[T](c, action, router.Result{}, raws, merger.FirstNonNull[T]())
	if err != nil {
		return zero, err
	}
	if merger.IsNil(res) {
		return zero, errs.ErrNoRows
	}
	return res, nil
}

// Query 使用规则上配置的 merger 合并结果，规则没有配置时使用 def
func Query[T any](ctx context.Context, c *Client, action string, argument any, def Merger[T]) (T, error) {
	var zero T
	route, raws, err := c.dispatch(ctx, action, argument)
	if err != nil {
		return zero, err
	}
	return mergeResults[T](c, action, route, raws, def)
}

func mergeResults[T any](c *Client, action string, route router.Result, raws []any, def Merger[T]) (T, error) {
	var zero T
	typ := reflect.TypeOf((*T)(nil)).Elem().String()
	vals := make([]T, 0, len(raws))
	for _, raw := range raws {
		if raw == nil {
			continue
		}
		v, ok := raw.(T)
		if !ok {
			return zero, errs.NewUnexpectedResultTypeError(action, typ, raw)
		}
		vals = append(vals, v)
	}
	m := def
	if route.Merger != "" {
		named, ok := c.mergers[route.Merger]
		if !ok {
			return zero, errs.NewUnknownMergerError(route.Merger)
		}
		m, ok = named.(Merger[T])
		if !ok {
			return zero, errs.NewMergerTypeError(route.Merger, typ)
		}
	}
	return m.Merge(vals)
}

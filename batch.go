package shardclient

import (
	"context"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/meoying/shardclient/internal/datasource"
	"github.com/meoying/shardclient/internal/errs"
	"github.com/meoying/shardclient/internal/executor"
	"github.com/meoying/shardclient/internal/merger"
	"github.com/meoying/shardclient/internal/router"
)

// BatchInsert 先为每个实体计算路由，按照分片分组之后每个分片只执行一次批量插入。
// 一个实体命中多个分片会直接返回错误；没有命中任何规则的实体写入默认数据源。
func BatchInsert[E any](ctx context.Context, c *Client, action string, entities []E) (int64, error) {
	if len(entities) == 0 {
		return 0, nil
	}
	defer c.profile(ctx, action, len(entities), time.Now())

	routes := make([]router.Result, len(entities))
	var eg errgroup.Group
	eg.SetLimit(runtime.NumCPU())
	for i := range entities {
		i := i
		eg.Go(func() error {
			res, err := c.router.Route(ctx, router.Fact{Action: action, Argument: entities[i]})
			if err != nil {
				return err
			}
			if len(res.ResourceIdentities) > 1 {
				return errs.NewMultiShardEntityError(entities[i], res.ResourceIdentities)
			}
			routes[i] = res
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return 0, err
	}

	var (
		groups   = make(map[string][]any)
		order    []string
		defaults []any
	)
	for i, res := range routes {
		if res.Empty() {
			defaults = append(defaults, entities[i])
			continue
		}
		id := res.ResourceIdentities[0]
		if _, ok := groups[id]; !ok {
			order = append(order, id)
		}
		groups[id] = append(groups[id], entities[i])
	}

	reqs := make([]executor.Request, 0, len(order))
	for _, id := range order {
		reqs = append(reqs, executor.Request{ShardID: id, Op: c.batchOperation(action, groups[id])})
	}
	var affected []int64
	if len(reqs) > 0 {
		results, err := c.executor.Execute(ctx, reqs)
		if err != nil {
			return 0, err
		}
		for _, r := range results {
			affected = append(affected, r.Value.(int64))
		}
	}
	if len(defaults) > 0 {
		conn, err := c.defaultConn(ctx)
		if err != nil {
			return 0, err
		}
		defer conn.Close()
		val, err := c.batchOperation(action, defaults)(ctx, conn)
		if err != nil {
			return 0, err
		}
		affected = append(affected, val.(int64))
	}
	return merger.Sum[int64]().Merge(affected)
}

// batchOperation 在同一个连接上逐个插入 entities
func (c *Client) batchOperation(action string, entities []any) executor.Operation {
	return func(ctx context.Context, conn datasource.Conn) (any, error) {
		var total int64
		for _, e := range entities {
			val, err := c.statements.Execute(ctx, conn, action, e)
			if err != nil {
				return nil, err
			}
			n, ok := val.(int64)
			if !ok {
				return nil, errs.NewUnexpectedResultTypeError(action, "int64", val)
			}
			total += n
		}
		return total, nil
	}
}

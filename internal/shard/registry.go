package shard

import (
	"context"
	"sort"

	"github.com/ecodeclub/ekit/mapx"
	"go.uber.org/multierr"

	"github.com/meoying/shardclient/internal/errs"
)

// Registry 启动时构造，之后只读，读的时候不需要加锁
type Registry struct {
	shards map[string]*Shard
	ids    []string
}

func NewRegistry(shards ...*Shard) (*Registry, error) {
	m := make(map[string]*Shard, len(shards))
	for _, s := range shards {
		if s == nil || s.ID == "" {
			return nil, errs.NewRoutingError("分片 ID 不能为空")
		}
		if _, ok := m[s.ID]; ok {
			return nil, errs.NewDuplicateShardError(s.ID)
		}
		m[s.ID] = s
	}
	ids := mapx.Keys(m)
	sort.Strings(ids)
	return &Registry{shards: m, ids: ids}, nil
}

func (r *Registry) Get(id string) (*Shard, bool) {
	s, ok := r.shards[id]
	return s, ok
}

// Find 和 Get 一样，但是分片不存在时返回错误
func (r *Registry) Find(id string) (*Shard, error) {
	s, ok := r.shards[id]
	if !ok {
		return nil, errs.NewUnknownShardError(id)
	}
	return s, nil
}

// IDs 按照字典序排好的分片 ID
func (r *Registry) IDs() []string {
	res := make([]string, len(r.ids))
	copy(res, r.ids)
	return res
}

func (r *Registry) Len() int {
	return len(r.ids)
}

// Ping 检查每一个分片，返回每个分片的结果，nil 代表正常
func (r *Registry) Ping(ctx context.Context) map[string]error {
	res := make(map[string]error, len(r.ids))
	for _, id := range r.ids {
		res[id] = r.shards[id].DB.PingContext(ctx)
	}
	return res
}

func (r *Registry) Close() error {
	var err error
	for _, id := range r.ids {
		err = multierr.Append(err, r.shards[id].DB.Close())
	}
	return err
}

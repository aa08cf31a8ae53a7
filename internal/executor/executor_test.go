package executor

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/goleak"

	"github.com/meoying/shardclient/internal/datasource"
	"github.com/meoying/shardclient/internal/errs"
	"github.com/meoying/shardclient/internal/shard"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type ExecutorTestSuite struct {
	suite.Suite
	mocks    map[string]sqlmock.Sqlmock
	registry *shard.Registry
}

func (s *ExecutorTestSuite) SetupTest() {
	s.mocks = make(map[string]sqlmock.Sqlmock)
	shards := make([]*shard.Shard, 0, 3)
	for _, id := range []string{"s1", "s2", "s3"} {
		db, mock, err := sqlmock.New()
		s.Require().NoError(err)
		s.mocks[id] = mock
		shards = append(shards, shard.New(id, db, shard.WithPoolSize(2)))
	}
	r, err := shard.NewRegistry(shards...)
	s.Require().NoError(err)
	s.registry = r
}

func (s *ExecutorTestSuite) TearDownTest() {
	_ = s.registry.Close()
}

func insert(ctx context.Context, conn datasource.Conn) (any, error) {
	res, err := conn.ExecContext(ctx, "INSERT INTO offer(id) VALUES(1)")
	if err != nil {
		return nil, err
	}
	return res.RowsAffected()
}

func (s *ExecutorTestSuite) newExecutor(opts ...Option) *Executor {
	e := New(s.registry, opts...)
	e.Start()
	s.T().Cleanup(func() {
		s.NoError(e.Stop(context.Background()))
	})
	return e
}

func (s *ExecutorTestSuite) TestExecute() {
	t := s.T()
	testCases := []struct {
		name       string
		mock       func()
		reqs       func() []Request
		wantShards []string
		wantErr    error
		wantCauses int
	}{
		{
			name: "没有请求",
			mock: func() {},
			reqs: func() []Request {
				return nil
			},
		},
		{
			name: "单个分片",
			mock: func() {
				s.mocks["s1"].ExpectExec("INSERT INTO offer").WillReturnResult(sqlmock.NewResult(1, 1))
			},
			reqs: func() []Request {
				return []Request{{ShardID: "s1", Op: insert}}
			},
			wantShards: []string{"s1"},
		},
		{
			name: "单个分片失败",
			mock: func() {
				s.mocks["s1"].ExpectExec("INSERT INTO offer").WillReturnError(errors.New("mock error"))
			},
			reqs: func() []Request {
				return []Request{{ShardID: "s1", Op: insert}}
			},
			wantErr: errors.New("mock error"),
		},
		{
			name: "多个分片",
			mock: func() {
				for _, id := range []string{"s1", "s2", "s3"} {
					s.mocks[id].ExpectExec("INSERT INTO offer").WillReturnResult(sqlmock.NewResult(1, 1))
				}
			},
			reqs: func() []Request {
				return []Request{{ShardID: "s3", Op: insert}, {ShardID: "s1", Op: insert}, {ShardID: "s2", Op: insert}}
			},
			wantShards: []string{"s1", "s2", "s3"},
		},
		{
			name: "一个分片失败",
			mock: func() {
				s.mocks["s1"].ExpectExec("INSERT INTO offer").WillReturnResult(sqlmock.NewResult(1, 1))
				s.mocks["s2"].ExpectExec("INSERT INTO offer").WillReturnError(errors.New("connection refused"))
			},
			reqs: func() []Request {
				return []Request{{ShardID: "s1", Op: insert}, {ShardID: "s2", Op: insert}}
			},
			wantErr:    errors.New("connection refused"),
			wantCauses: 1,
		},
		{
			name: "全部失败",
			mock: func() {
				s.mocks["s1"].ExpectExec("INSERT INTO offer").WillReturnError(errors.New("s1 error"))
				s.mocks["s2"].ExpectExec("INSERT INTO offer").WillReturnError(errors.New("s2 error"))
			},
			reqs: func() []Request {
				return []Request{{ShardID: "s1", Op: insert}, {ShardID: "s2", Op: insert}}
			},
			wantErr:    errors.New("s1 error"),
			wantCauses: 2,
		},
		{
			name: "panic",
			mock: func() {
				s.mocks["s1"].ExpectExec("INSERT INTO offer").WillReturnResult(sqlmock.NewResult(1, 1))
			},
			reqs: func() []Request {
				return []Request{{ShardID: "s1", Op: insert}, {ShardID: "s2", Op: func(ctx context.Context, conn datasource.Conn) (any, error) {
					panic("boom")
				}}}
			},
			wantErr:    errors.New("boom"),
			wantCauses: 1,
		},
		{
			name: "未知分片",
			mock: func() {
				s.mocks["s1"].ExpectExec("INSERT INTO offer").WillReturnResult(sqlmock.NewResult(1, 1))
			},
			reqs: func() []Request {
				return []Request{{ShardID: "s1", Op: insert}, {ShardID: "s9", Op: insert}}
			},
			wantErr:    errs.ErrRouting,
			wantCauses: 1,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s.TearDownTest()
			s.SetupTest()
			e := New(s.registry)
			e.Start()
			defer func() {
				assert.NoError(t, e.Stop(context.Background()))
			}()
			tc.mock()

			res, err := e.Execute(context.Background(), tc.reqs())
			if tc.wantErr != nil {
				require.Error(t, err)
				assert.Nil(t, res)
				if !errors.Is(err, tc.wantErr) {
					assert.ErrorContains(t, err, tc.wantErr.Error())
				}
				if tc.wantCauses > 0 {
					var pf *errs.PartialExecutionFailure
					require.True(t, errors.As(err, &pf))
					assert.Len(t, pf.Causes, tc.wantCauses)
				}
				return
			}
			require.NoError(t, err)
			ids := make([]string, 0, len(res))
			for _, r := range res {
				ids = append(ids, r.ShardID)
				assert.Equal(t, int64(1), r.Value)
			}
			sort.Strings(ids)
			if len(tc.wantShards) == 0 {
				assert.Empty(t, ids)
			} else {
				assert.Equal(t, tc.wantShards, ids)
			}
			for _, m := range s.mocks {
				assert.NoError(t, m.ExpectationsWereMet())
			}
		})
	}
}

func (s *ExecutorTestSuite) TestExecute_Timeout() {
	e := s.newExecutor(WithTimeout(50 * time.Millisecond))
	s.mocks["s1"].ExpectExec("INSERT INTO offer").WillReturnResult(sqlmock.NewResult(1, 1))

	block := func(ctx context.Context, conn datasource.Conn) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	res, err := e.Execute(context.Background(), []Request{
		{ShardID: "s1", Op: insert},
		{ShardID: "s2", Op: block},
	})
	s.Nil(res)
	s.ErrorIs(err, context.DeadlineExceeded)
	var pf *errs.PartialExecutionFailure
	s.Require().True(errors.As(err, &pf))
	s.Len(pf.Causes, 1)
	var se *errs.ShardError
	s.Require().True(errors.As(pf.Causes[0], &se))
	s.Equal("s2", se.ShardID)
}

func (s *ExecutorTestSuite) TestExecute_PoolLimit() {
	e := s.newExecutor(WithPoolSize(1), WithTimeout(time.Second))
	running := make(chan struct{}, 4)
	op := func(ctx context.Context, conn datasource.Conn) (any, error) {
		running <- struct{}{}
		defer func() { <-running }()
		// s1 的执行池大小为 1，同一时间最多只有 s1 的一个任务和 s2 的一个任务
		if len(running) > 2 {
			return nil, errors.New("超出执行池大小")
		}
		time.Sleep(10 * time.Millisecond)
		return int64(1), nil
	}
	res, err := e.Execute(context.Background(), []Request{
		{ShardID: "s1", Op: op},
		{ShardID: "s1", Op: op},
		{ShardID: "s2", Op: op},
	})
	s.NoError(err)
	s.Len(res, 3)
}

func (s *ExecutorTestSuite) TestLifecycle() {
	e := New(s.registry)
	op := func(ctx context.Context, conn datasource.Conn) (any, error) {
		return nil, nil
	}
	_, err := e.Execute(context.Background(), []Request{{ShardID: "s1", Op: op}})
	s.ErrorIs(err, errs.ErrExecutorNotStarted)

	e.Start()
	_, err = e.Execute(context.Background(), []Request{{ShardID: "s1", Op: op}, {ShardID: "s2", Op: op}})
	s.NoError(err)

	s.NoError(e.Stop(context.Background()))
	_, err = e.Execute(context.Background(), []Request{{ShardID: "s1", Op: op}, {ShardID: "s2", Op: op}})
	s.ErrorIs(err, errs.ErrPoolClosed)
}

func (s *ExecutorTestSuite) TestStop_Abandon() {
	e := New(s.registry, WithShutdownTimeout(20*time.Millisecond), WithTimeout(time.Second))
	e.Start()
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	op := func(ctx context.Context, conn datasource.Conn) (any, error) {
		started <- struct{}{}
		<-release
		return nil, nil
	}
	done := make(chan error, 1)
	go func() {
		_, err := e.Execute(context.Background(), []Request{{ShardID: "s1", Op: op}, {ShardID: "s2", Op: op}})
		done <- err
	}()
	<-started
	<-started
	err := e.Stop(context.Background())
	s.ErrorIs(err, context.DeadlineExceeded)
	close(release)
	s.NoError(<-done)
}

func (s *ExecutorTestSuite) TestExecute_InTransaction() {
	e := s.newExecutor()
	mock := s.mocks["s1"]
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO offer").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	s1, _ := s.registry.Get("s1")
	tx, err := s1.DB.BeginTx(context.Background(), nil)
	s.Require().NoError(err)
	ctx := datasource.WithTx(context.Background(), txBinding{"s1": tx})
	res, err := e.Execute(ctx, []Request{{ShardID: "s1", Op: insert}})
	s.Require().NoError(err)
	s.Equal(int64(1), res[0].Value)

	// s2 不在事务里，不能借普通连接自动提交
	_, err = e.Execute(ctx, []Request{{ShardID: "s2", Op: insert}})
	s.ErrorIs(err, errs.ErrShardNotInTx)
	var se *errs.ShardError
	s.Require().ErrorAs(err, &se)
	s.Equal("s2", se.ShardID)

	s.NoError(tx.Commit())
	s.NoError(mock.ExpectationsWereMet())
	s.NoError(s.mocks["s2"].ExpectationsWereMet())
}

type txBinding map[string]*sql.Tx

func (b txBinding) Conn(shardID string) (datasource.Conn, bool) {
	tx, ok := b[shardID]
	return tx, ok
}

func TestExecutor(t *testing.T) {
	suite.Run(t, new(ExecutorTestSuite))
}

func TestNew_PoolSize(t *testing.T) {
	newRegistry := func(t *testing.T) *shard.Registry {
		shards := make([]*shard.Shard, 0, 2)
		for id, size := range map[string]int{"s1": 3, "s2": 0} {
			db, _, err := sqlmock.New()
			require.NoError(t, err)
			shards = append(shards, shard.New(id, db, shard.WithPoolSize(size)))
		}
		r, err := shard.NewRegistry(shards...)
		require.NoError(t, err)
		t.Cleanup(func() {
			_ = r.Close()
		})
		return r
	}
	testCases := []struct {
		name string
		opts []Option
		want map[string]int
	}{
		{
			name: "使用分片自己的大小",
			want: map[string]int{"s1": 3, "s2": shard.DefaultPoolSize},
		},
		{
			name: "统一覆盖",
			opts: []Option{WithPoolSize(1)},
			want: map[string]int{"s1": 1, "s2": 1},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			e := New(newRegistry(t), tc.opts...)
			got := make(map[string]int, len(e.pools))
			for id, p := range e.pools {
				got[id] = p.size
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

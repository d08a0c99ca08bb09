// Copyright 2021 ecodeclub
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dsrouter

import (
	"context"
	"database/sql"

	"github.com/ecodeclub/dsrouter/internal/errs"
)

// Record 一行结果，key 是映射之后的字段名
type Record map[string]any

// Params 语句参数，key 对应语句里的 #{name}
type Params map[string]any

// Session 一次会话只对应一个数据源。
// 如果 ctx 中有全局事务，语句会在该数据源加入全局事务的分支上执行
type Session interface {
	// Key 会话所属的数据源
	Key() string
	Exec(ctx context.Context, id string, params Params) (sql.Result, error)
	Query(ctx context.Context, id string, params Params) ([]Record, error)
}

var _ Session = &session{}

type session struct {
	f *Factory
}

func (s *session) Key() string {
	return s.f.key
}

func (s *session) Exec(ctx context.Context, id string, params Params) (sql.Result, error) {
	res := s.do(ctx, opExec, id, params)
	if res.Err != nil {
		return nil, res.Err
	}
	r, _ := res.Result.(sql.Result)
	return r, nil
}

func (s *session) Query(ctx context.Context, id string, params Params) ([]Record, error) {
	res := s.do(ctx, opQuery, id, params)
	if res.Err != nil {
		return nil, res.Err
	}
	records, _ := res.Result.([]Record)
	return records, nil
}

func (s *session) do(ctx context.Context, o op, id string, params Params) *QueryResult {
	qc, err := s.queryContext(o, id, params)
	if err != nil {
		return &QueryResult{Err: err}
	}
	res := s.f.handler(ctx, qc)
	s.f.metrics.ObserveStatement(s.f.key, res.Err)
	return res
}

func (s *session) queryContext(o op, id string, params Params) (*QueryContext, error) {
	stmt, ok := s.f.cfg.Statement(id)
	if !ok {
		return nil, errs.NewErrStatementNotFound(s.f.key, id)
	}
	args := make([]any, 0, len(stmt.Params))
	for _, p := range stmt.Params {
		v, ok := params[p]
		if !ok {
			return nil, errs.NewErrMissingParam(stmt.ID, p)
		}
		args = append(args, v)
	}
	return &QueryContext{
		Type:        string(stmt.Kind),
		StatementID: stmt.ID,
		q: Query{
			SQL:        stmt.SQL,
			Args:       args,
			Datasource: s.f.key,
		},
		op:   o,
		meta: stmt.Result,
	}, nil
}

// SelectOne 执行查询并把第一行结果放进 T。T 必须是结构体
func SelectOne[T any](ctx context.Context, sess Session, id string, params Params) (*T, error) {
	records, err := sess.Query(ctx, id, params)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNoRows
	}
	t := new(T)
	if err = assign(records[0], t); err != nil {
		return nil, err
	}
	return t, nil
}

// SelectList 执行查询并把每一行结果放进一个 T。没有数据时返回空切片
func SelectList[T any](ctx context.Context, sess Session, id string, params Params) ([]*T, error) {
	records, err := sess.Query(ctx, id, params)
	if err != nil {
		return nil, err
	}
	res := make([]*T, 0, len(records))
	for _, r := range records {
		t := new(T)
		if err = assign(r, t); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, nil
}

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

	"github.com/ecodeclub/dsrouter/internal/datasource/xa"
	"github.com/ecodeclub/dsrouter/internal/errs"
	"github.com/ecodeclub/dsrouter/internal/mapping"
	"github.com/ecodeclub/dsrouter/internal/metrics"
	"go.uber.org/zap"
)

// SessionFactory 在某一个数据源上打开会话
type SessionFactory interface {
	// Key 路由 key，同时也是数据源的 unique resource name
	Key() string
	OpenSession(ctx context.Context) (Session, error)
}

var _ SessionFactory = &Factory{}

type FactoryOption func(f *Factory)

// Factory 绑定了一个 XA 数据源和这个数据源上全部 mapper 的 SessionFactory。
// 构建完成之后就是只读的，可以被多个 goroutine 共享
type Factory struct {
	key     string
	ds      *xa.DataSource
	camel   bool
	ms      []Middleware
	logger  *zap.Logger
	metrics *metrics.Collector

	cfg     *mapping.Configuration
	handler HandleFunc
}

// WithMapUnderscoreToCamelCase 开启之后列 user_id 映射到字段 userId
func WithMapUnderscoreToCamelCase(enable bool) FactoryOption {
	return func(f *Factory) {
		f.camel = enable
	}
}

func WithMiddlewares(ms ...Middleware) FactoryOption {
	return func(f *Factory) {
		f.ms = ms
	}
}

func WithLogger(l *zap.Logger) FactoryOption {
	return func(f *Factory) {
		f.logger = l
	}
}

func WithMetrics(m *metrics.Collector) FactoryOption {
	return func(f *Factory) {
		f.metrics = m
	}
}

// BuildFactory 校验并编译 mappers 中属于 key 的部分。
// 返回的 Factory 一定可以直接打开会话，所有 mapper 的问题都会在这里以 ConfigurationError 的形式暴露
func BuildFactory(key string, ds *xa.DataSource, mappers []*mapping.Mapper, opts ...FactoryOption) (*Factory, error) {
	if ds == nil {
		return nil, errs.NewConfigurationError(key, "数据源不能为空")
	}
	if key != ds.ResourceName() {
		return nil, errs.NewConfigurationError(key,
			"路由 key 必须和 unique resource name 一致，resource name: "+ds.ResourceName())
	}
	f := &Factory{
		key:    key,
		ds:     ds,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	cfg, err := mapping.Build(key, ds.Dialect(), mappers, mapping.Options{
		MapUnderscoreToCamelCase: f.camel,
	})
	if err != nil {
		return nil, err
	}
	f.cfg = cfg
	root := f.execute
	for i := len(f.ms) - 1; i >= 0; i-- {
		root = f.ms[i](root)
	}
	f.handler = root
	f.logger.Info("session factory built",
		zap.String("datasource", key),
		zap.String("dialect", ds.Dialect().Name),
		zap.Strings("statements", cfg.Statements()))
	return f, nil
}

func (f *Factory) Key() string {
	return f.key
}

// OpenSession 会话本身不持有连接，每条语句执行时才从数据源或者全局事务分支上获取
func (f *Factory) OpenSession(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &session{f: f}, nil
}

// Statements 当前数据源上可用的语句 id
func (f *Factory) Statements() []string {
	return f.cfg.Statements()
}

func (f *Factory) Ping(ctx context.Context) error {
	return f.ds.Ping(ctx)
}

func (f *Factory) Close() error {
	return f.ds.Close()
}

// execute 是中间件链的最后一环
func (f *Factory) execute(ctx context.Context, qc *QueryContext) *QueryResult {
	switch qc.op {
	case opQuery:
		rows, err := f.ds.Query(ctx, qc.q)
		if err != nil {
			return &QueryResult{Err: err}
		}
		records, err := f.scan(rows, qc.meta)
		return &QueryResult{Result: records, Err: err}
	default:
		res, err := f.ds.Exec(ctx, qc.q)
		return &QueryResult{Result: res, Err: err}
	}
}

func (f *Factory) scan(rows *sql.Rows, meta *mapping.EntityMeta) (records []Record, err error) {
	defer func() {
		if cerr := rows.Close(); err == nil {
			err = cerr
		}
	}()
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	fields := make([]string, len(cols))
	for i, c := range cols {
		fields[i] = f.cfg.FieldName(meta, c)
	}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err = rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		r := make(Record, len(cols))
		for i, name := range fields {
			r[name] = vals[i]
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

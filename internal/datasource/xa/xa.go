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

package xa

import (
	"context"
	"database/sql"
	"regexp"
	"sync"

	"github.com/ecodeclub/dsrouter/internal/datasource"
	"github.com/ecodeclub/dsrouter/internal/datasource/transaction"
	"github.com/ecodeclub/dsrouter/internal/dialect"
	"github.com/ecodeclub/dsrouter/internal/errs"
	"github.com/ecodeclub/ekit/mapx"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Pool XA 数据源包装的连接池
type Pool interface {
	datasource.DataSource
	datasource.ConnProvider
	datasource.TxBeginner
}

var resourceNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)

// registry 进程内所有已经包装的数据源。
// 全局事务按照资源名区分分支，所以资源名必须在整个进程内唯一
var registry = struct {
	lock  sync.Mutex
	names map[string]*DataSource
}{names: make(map[string]*DataSource, 4)}

// ResourceSet 记录一次启动过程中包装的数据源，资源名的唯一性由进程级的 registry 保证
type ResourceSet struct {
	lock   sync.Mutex
	names  map[string]*DataSource
	logger *zap.Logger
}

type ResourceSetOption func(s *ResourceSet)

func WithLogger(l *zap.Logger) ResourceSetOption {
	return func(s *ResourceSet) {
		s.logger = l
	}
}

func NewResourceSet(opts ...ResourceSetOption) *ResourceSet {
	s := &ResourceSet{
		names:  make(map[string]*DataSource, 4),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Wrap 把连接池包装成可以加入全局事务的数据源。
// 资源名为空、含有非法字符或者重复都属于配置错误
func (s *ResourceSet) Wrap(pool Pool, uniqueResourceName string, dl dialect.Dialect) (*DataSource, error) {
	if uniqueResourceName == "" {
		return nil, errs.WrapConfigurationError("xa", "wrap datasource", errs.ErrEmptyResourceName)
	}
	// 资源名会被拼进 XA 语句里
	if !resourceNamePattern.MatchString(uniqueResourceName) {
		return nil, errs.NewErrInvalidResourceName(uniqueResourceName)
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	ds := &DataSource{
		name:    uniqueResourceName,
		pool:    pool,
		dialect: dl,
	}
	registry.lock.Lock()
	if _, ok := registry.names[uniqueResourceName]; ok {
		registry.lock.Unlock()
		return nil, errs.NewErrDuplicateResourceName(uniqueResourceName)
	}
	registry.names[uniqueResourceName] = ds
	registry.lock.Unlock()
	if !dl.SupportXA() {
		s.logger.Warn("dialect does not support XA, falling back to local transactions",
			zap.String("resource", uniqueResourceName), zap.String("dialect", dl.Name))
	}
	s.names[uniqueResourceName] = ds
	return ds, nil
}

// Names 已注册的资源名
func (s *ResourceSet) Names() []string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return mapx.Keys[string, *DataSource](s.names)
}

var _ datasource.DataSource = &DataSource{}
var _ transaction.Resource = &DataSource{}

// DataSource 能够感知全局事务的数据源。
// 没有全局事务的时候，它就是一个普通的连接池
type DataSource struct {
	name    string
	pool    Pool
	dialect dialect.Dialect
}

func (d *DataSource) ResourceName() string {
	return d.name
}

func (d *DataSource) Dialect() dialect.Dialect {
	return d.dialect
}

// Executor 如果 ctx 中有活跃的全局事务，返回加入该事务的分支，否则返回连接池本身
func (d *DataSource) Executor(ctx context.Context) (datasource.Executor, error) {
	gtx := transaction.FromContext(ctx)
	if gtx == nil {
		return d.pool, nil
	}
	return gtx.Enlist(ctx, d)
}

func (d *DataSource) Query(ctx context.Context, query datasource.Query) (*sql.Rows, error) {
	exec, err := d.Executor(ctx)
	if err != nil {
		return nil, err
	}
	return exec.Query(ctx, query)
}

func (d *DataSource) Exec(ctx context.Context, query datasource.Query) (sql.Result, error) {
	exec, err := d.Executor(ctx)
	if err != nil {
		return nil, err
	}
	return exec.Exec(ctx, query)
}

// StartBranch 开启分支。XA 分支会占用一个物理连接，
// 不支持 XA 的方言退化成连接池上的本地事务
func (d *DataSource) StartBranch(ctx context.Context, xid dialect.XID) (transaction.Branch, error) {
	if !d.dialect.SupportXA() {
		tx, err := d.pool.BeginTx(ctx, nil)
		if err != nil {
			return nil, err
		}
		return &localBranch{resource: d.name, tx: tx}, nil
	}
	conn, err := d.pool.Conn(ctx)
	if err != nil {
		return nil, err
	}
	b := &xaBranch{
		resource: d.name,
		xid:      xid,
		xa:       d.dialect.XA,
		conn:     conn,
	}
	if err = b.run(ctx, d.dialect.XA.Start(xid)); err != nil {
		b.discard()
		return nil, err
	}
	return b, nil
}

// Ping 用一个独立的连接检查数据源是否可用
func (d *DataSource) Ping(ctx context.Context) error {
	conn, err := d.pool.Conn(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = conn.Close()
	}()
	return conn.PingContext(ctx)
}

// Close 关闭连接池并释放资源名，之后同名的数据源可以重新包装
func (d *DataSource) Close() error {
	d.release()
	return d.pool.Close()
}

func (d *DataSource) release() {
	registry.lock.Lock()
	defer registry.lock.Unlock()
	if registry.names[d.name] == d {
		delete(registry.names, d.name)
	}
}

// Close 关闭这个 ResourceSet 包装的所有数据源
func (s *ResourceSet) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	var err error
	for name, ds := range s.names {
		err = multierr.Append(err, ds.Close())
		delete(s.names, name)
	}
	return err
}

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

package transaction

import (
	"context"

	"github.com/ecodeclub/dsrouter/internal/datasource"
	"github.com/ecodeclub/dsrouter/internal/dialect"
	"github.com/ecodeclub/dsrouter/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Branch 全局事务中的一个分支，对应一个资源上的一个物理连接
type Branch interface {
	datasource.Executor
	Resource() string
	// Prepare 两阶段提交的第一阶段
	Prepare(ctx context.Context) error
	// Commit onePhase 为 true 表示跳过 Prepare 直接提交
	Commit(ctx context.Context, onePhase bool) error
	Rollback(ctx context.Context) error
}

// Resource 可以加入全局事务的资源
type Resource interface {
	ResourceName() string
	StartBranch(ctx context.Context, xid dialect.XID) (Branch, error)
}

type globalTxKey struct{}

// WithGlobalTx 把全局事务放进 ctx，之后用这个 ctx 打开的连接都会加入该事务
func WithGlobalTx(ctx context.Context, tx *GlobalTx) context.Context {
	return context.WithValue(ctx, globalTxKey{}, tx)
}

// FromContext 没有全局事务时返回 nil
func FromContext(ctx context.Context) *GlobalTx {
	tx, _ := ctx.Value(globalTxKey{}).(*GlobalTx)
	return tx
}

type CoordinatorOption func(c *Coordinator)

// Coordinator 进程内的事务协调者，负责开启全局事务并驱动两阶段提交。
// 它不记录恢复日志，宕机时处于 prepared 状态的分支需要人工处理
type Coordinator struct {
	maxBranches int
	logger      *zap.Logger
	metrics     *metrics.Collector
}

func NewCoordinator(opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithMaxBranches 限制单个全局事务的分支数，0 表示不限制
func WithMaxBranches(n int) CoordinatorOption {
	return func(c *Coordinator) {
		c.maxBranches = n
	}
}

func WithLogger(l *zap.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = l
	}
}

func WithMetrics(m *metrics.Collector) CoordinatorOption {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// Begin 开启一个新的全局事务，返回携带该事务的 ctx
func (c *Coordinator) Begin(ctx context.Context) (context.Context, *GlobalTx) {
	tx := &GlobalTx{
		xid:      uuid.NewString(),
		c:        c,
		index:    make(map[Resource]Branch, 4),
		names:    make(map[string]Resource, 4),
		starting: make(map[Resource]chan struct{}, 4),
	}
	c.logger.Debug("begin global transaction", zap.String("xid", tx.xid))
	return WithGlobalTx(ctx, tx), tx
}

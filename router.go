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
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/ecodeclub/dsrouter/internal/datasource/transaction"
	"github.com/ecodeclub/dsrouter/internal/errs"
	"github.com/ecodeclub/dsrouter/internal/metrics"
	"github.com/ecodeclub/ekit/mapx"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type routeKey struct{}

type RouterOption func(r *Router)

// Router 根据路由 key 选择 SessionFactory。
// 注册表在构造之后只读，路由 key 放在 ctx 或者 Scope 里，所以 Router 可以被并发使用
type Router struct {
	factories   map[string]SessionFactory
	defaultKey  string
	coordinator *transaction.Coordinator
	logger      *zap.Logger
	metrics     *metrics.Collector
}

func RouterWithLogger(l *zap.Logger) RouterOption {
	return func(r *Router) {
		r.logger = l
	}
}

func RouterWithMetrics(m *metrics.Collector) RouterOption {
	return func(r *Router) {
		r.metrics = m
	}
}

// RouterWithCoordinator 指定全局事务协调者，默认使用一个不限制分支数的协调者
func RouterWithCoordinator(c *transaction.Coordinator) RouterOption {
	return func(r *Router) {
		r.coordinator = c
	}
}

// NewRouter 注册表为空、defaultKey 没有注册或者 factory 的 Key 和注册的 key 不一致都会返回 ConfigurationError
func NewRouter(factories map[string]SessionFactory, defaultKey string, opts ...RouterOption) (*Router, error) {
	if len(factories) == 0 {
		return nil, errs.WrapConfigurationError("router", "构造路由", errs.ErrEmptyRegistry)
	}
	registry := make(map[string]SessionFactory, len(factories))
	for key, f := range factories {
		if f == nil || f.Key() != key {
			return nil, errs.NewConfigurationError(key, "注册的 key 和 SessionFactory 的 Key 不一致")
		}
		registry[key] = f
	}
	if _, ok := registry[defaultKey]; !ok {
		return nil, errs.WrapConfigurationError(defaultKey, "构造路由", errs.ErrMissingDefaultRoute)
	}
	r := &Router{
		factories:  registry,
		defaultKey: defaultKey,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.coordinator == nil {
		r.coordinator = transaction.NewCoordinator(
			transaction.WithLogger(r.logger), transaction.WithMetrics(r.metrics))
	}
	return r, nil
}

// SetRoute 返回携带路由 key 的 ctx。key 没有注册的时候返回 UnknownRouteError 和原本的 ctx
func (r *Router) SetRoute(ctx context.Context, key string) (context.Context, error) {
	if _, ok := r.factories[key]; !ok {
		return ctx, errs.NewErrUnknownRoute(key)
	}
	return context.WithValue(ctx, routeKey{}, key), nil
}

// ClearRoute 返回回到默认路由的 ctx
func (r *Router) ClearRoute(ctx context.Context) context.Context {
	if _, ok := ctx.Value(routeKey{}).(string); !ok {
		return ctx
	}
	return context.WithValue(ctx, routeKey{}, nil)
}

// Route 返回 ctx 中显式设置的路由 key
func (r *Router) Route(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(routeKey{}).(string)
	return key, ok
}

// CurrentSession 有显式路由的时候使用对应的 factory，否则使用默认 factory。
// ctx 里的 key 没有注册时返回 UnknownRouteError，不会退回默认数据源
func (r *Router) CurrentSession(ctx context.Context) (Session, error) {
	key, explicit := r.Route(ctx)
	return r.session(ctx, key, explicit)
}

func (r *Router) session(ctx context.Context, key string, explicit bool) (Session, error) {
	if !explicit {
		key = r.defaultKey
	}
	f, ok := r.factories[key]
	if !ok {
		return nil, errs.NewErrUnknownRoute(key)
	}
	r.metrics.ObserveRoute(key, explicit)
	return f.OpenSession(ctx)
}

// RunOn 在 key 对应的数据源上执行 fn，路由只在 fn 内部生效
func (r *Router) RunOn(ctx context.Context, key string, fn func(ctx context.Context, sess Session) error) error {
	ctx, err := r.SetRoute(ctx, key)
	if err != nil {
		return err
	}
	sess, err := r.CurrentSession(ctx)
	if err != nil {
		return err
	}
	return fn(ctx, sess)
}

// Keys 所有注册的路由 key，按字典序
func (r *Router) Keys() []string {
	keys := mapx.Keys[string, SessionFactory](r.factories)
	sort.Strings(keys)
	return keys
}

func (r *Router) DefaultKey() string {
	return r.defaultKey
}

// Factory 返回 key 对应的 SessionFactory
func (r *Router) Factory(key string) (SessionFactory, error) {
	f, ok := r.factories[key]
	if !ok {
		return nil, errs.NewErrUnknownRoute(key)
	}
	return f, nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Ping 并发检查所有支持 Ping 的 factory，返回所有失败数据源的错误
func (r *Router) Ping(ctx context.Context) error {
	var (
		eg   errgroup.Group
		lock sync.Mutex
		err  error
	)
	for key, f := range r.factories {
		p, ok := f.(pinger)
		if !ok {
			continue
		}
		key := key
		eg.Go(func() error {
			if er := p.Ping(ctx); er != nil {
				lock.Lock()
				err = multierr.Append(err, fmt.Errorf("dsrouter: ping %s: %w", key, er))
				lock.Unlock()
			}
			return nil
		})
	}
	_ = eg.Wait()
	return err
}

// Close 关闭所有实现了 io.Closer 的 factory，并合并它们的错误
func (r *Router) Close() error {
	var err error
	for _, key := range r.Keys() {
		if c, ok := r.factories[key].(io.Closer); ok {
			err = multierr.Append(err, c.Close())
		}
	}
	if err != nil {
		r.logger.Warn("close router", zap.Error(err))
	}
	return err
}

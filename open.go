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

	"github.com/ecodeclub/dsrouter/config"
	"github.com/ecodeclub/dsrouter/internal/datasource/single"
	"github.com/ecodeclub/dsrouter/internal/datasource/transaction"
	"github.com/ecodeclub/dsrouter/internal/datasource/xa"
	"github.com/ecodeclub/dsrouter/internal/dialect"
	"github.com/ecodeclub/dsrouter/internal/errs"
	"github.com/ecodeclub/dsrouter/internal/mapping"
	"github.com/ecodeclub/dsrouter/internal/metrics"
	"github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type OpenOption func(o *openOptions)

type openOptions struct {
	logger     *zap.Logger
	registerer prometheus.Registerer
	ms         []Middleware
}

func OpenWithLogger(l *zap.Logger) OpenOption {
	return func(o *openOptions) {
		o.logger = l
	}
}

// OpenWithRegisterer 注册 prometheus 指标，不设置的时候不采集指标
func OpenWithRegisterer(reg prometheus.Registerer) OpenOption {
	return func(o *openOptions) {
		o.registerer = reg
	}
}

func OpenWithMiddlewares(ms ...Middleware) OpenOption {
	return func(o *openOptions) {
		o.ms = ms
	}
}

// Open 按照配置打开所有数据源并构造 Router。
// 步骤依次是：打开连接池、并发 Ping、包装成 XA 数据源、构建 SessionFactory、注册路由。
// 任何一步失败都会关闭已经打开的连接池并返回错误，不会返回部分可用的 Router
func Open(ctx context.Context, cfg *config.Config, opts ...OpenOption) (r *Router, err error) {
	o := &openOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	var m *metrics.Collector
	if o.registerer != nil {
		if m, err = metrics.NewCollector(o.registerer); err != nil {
			return nil, err
		}
	}

	mappers, err := mapping.Load(cfg.Mapper.Locations...)
	if err != nil {
		return nil, err
	}
	if len(mappers) == 0 {
		o.logger.Warn("no mapper file matched", zap.Strings("locations", cfg.Mapper.Locations))
	}
	if err = checkMapperDatasources(cfg, mappers); err != nil {
		return nil, err
	}

	names := cfg.Names()
	pools := make(map[string]*single.DB, len(names))
	rs := xa.NewResourceSet(xa.WithLogger(o.logger))
	defer func() {
		if err == nil {
			return
		}
		// 释放已经占用的资源名，连接池重复关闭是安全的
		err = multierr.Append(err, rs.Close())
		for _, db := range pools {
			err = multierr.Append(err, db.Close())
		}
	}()
	dialects := make(map[string]dialect.Dialect, len(names))
	for _, name := range names {
		dsCfg := cfg.Datasources[name]
		dl, er := dialect.Of(dsCfg.Driver)
		if er != nil {
			return nil, errs.WrapConfigurationError(name, "driver", er)
		}
		db, er := single.OpenDB(dsCfg.Driver, dsCfg.DSN,
			single.WithMaxOpenConns(dsCfg.MaxOpenConns),
			single.WithMaxIdleConns(dsCfg.MaxIdleConns),
			single.WithConnMaxLifetime(dsCfg.ConnMaxLifetime),
			single.WithConnMaxIdleTime(dsCfg.ConnMaxIdleTime))
		if er != nil {
			return nil, errs.WrapConfigurationError(name, "打开连接池", er)
		}
		pools[name], dialects[name] = db, dl
	}

	dsns := make(map[string]string, len(names))
	for _, name := range names {
		dsns[name] = cfg.Datasources[name].DSN
	}
	if err = ping(ctx, pools, dsns, o.logger); err != nil {
		return nil, err
	}

	factories := make(map[string]SessionFactory, len(names))
	for _, name := range names {
		ds, er := rs.Wrap(pools[name], name, dialects[name])
		if er != nil {
			return nil, er
		}
		f, er := BuildFactory(name, ds, mappers,
			WithMapUnderscoreToCamelCase(cfg.Mapper.MapUnderscoreToCamelCase),
			WithMiddlewares(o.ms...),
			WithLogger(o.logger),
			WithMetrics(m))
		if er != nil {
			return nil, er
		}
		factories[name] = f
	}

	coordinator := transaction.NewCoordinator(
		transaction.WithMaxBranches(cfg.Router.MaxBranches),
		transaction.WithLogger(o.logger),
		transaction.WithMetrics(m))
	return NewRouter(factories, cfg.Router.Default,
		RouterWithLogger(o.logger),
		RouterWithMetrics(m),
		RouterWithCoordinator(coordinator))
}

// checkMapperDatasources mapper 指定的数据源必须存在，否则它不会被任何数据源加载
func checkMapperDatasources(cfg *config.Config, mappers []*mapping.Mapper) error {
	for _, m := range mappers {
		if m.Datasource == "" {
			continue
		}
		if _, ok := cfg.Datasources[m.Datasource]; !ok {
			return errs.NewConfigurationError(m.Source, "引用了未配置的数据源 "+m.Datasource)
		}
	}
	return nil
}

func ping(ctx context.Context, pools map[string]*single.DB, dsns map[string]string, logger *zap.Logger) error {
	eg, ctx := errgroup.WithContext(ctx)
	for name, db := range pools {
		name, db := name, db
		eg.Go(func() error {
			if err := db.Ping(ctx); err != nil {
				return errs.WrapConfigurationError(name, "ping", err)
			}
			logger.Info("datasource ready", zap.String("datasource", name),
				zap.String("driver", db.Driver()), zap.String("target", target(db.Driver(), dsns[name])))
			return nil
		})
	}
	return eg.Wait()
}

// target 返回日志里展示的数据源地址，不输出完整 DSN
func target(driver, dsn string) string {
	if driver != "mysql" {
		return ""
	}
	c, err := mysql.ParseDSN(dsn)
	if err != nil {
		return ""
	}
	return c.Addr + "/" + c.DBName
}

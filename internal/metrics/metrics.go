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

// Package metrics 暴露路由、会话和全局事务相关的 prometheus 指标。
// 所有方法在 nil *Collector 上调用都是安全的，未开启指标时什么都不做
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dsrouter"

const (
	RouteExplicit = "explicit"
	RouteDefault  = "default"

	OutcomeCommitted  = "committed"
	OutcomeRolledBack = "rolled_back"
	OutcomeFailed     = "failed"

	ResultOK    = "ok"
	ResultError = "error"
)

type Collector struct {
	routes      *prometheus.CounterVec
	statements  *prometheus.CounterVec
	enlistments *prometheus.CounterVec
	globalTxs   *prometheus.CounterVec
}

// NewCollector 创建并注册所有指标
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		routes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_resolutions_total",
			Help:      "Number of sessions resolved by the router, by datasource and route kind.",
		}, []string{"datasource", "kind"}),
		statements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "statements_total",
			Help:      "Number of mapped statements executed, by datasource and result.",
		}, []string{"datasource", "result"}),
		enlistments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "xa_enlistments_total",
			Help:      "Number of XA branch enlistments, by resource and result.",
		}, []string{"resource", "result"}),
		globalTxs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "global_transactions_total",
			Help:      "Number of finished global transactions, by outcome.",
		}, []string{"outcome"}),
	}
	for _, col := range []prometheus.Collector{c.routes, c.statements, c.enlistments, c.globalTxs} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) ObserveRoute(datasource string, explicit bool) {
	if c == nil {
		return
	}
	kind := RouteDefault
	if explicit {
		kind = RouteExplicit
	}
	c.routes.WithLabelValues(datasource, kind).Inc()
}

func (c *Collector) ObserveStatement(datasource string, err error) {
	if c == nil {
		return
	}
	c.statements.WithLabelValues(datasource, result(err)).Inc()
}

func (c *Collector) ObserveEnlistment(resource string, err error) {
	if c == nil {
		return
	}
	c.enlistments.WithLabelValues(resource, result(err)).Inc()
}

func (c *Collector) ObserveGlobalTx(outcome string) {
	if c == nil {
		return
	}
	c.globalTxs.WithLabelValues(outcome).Inc()
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}

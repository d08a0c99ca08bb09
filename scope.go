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

	"github.com/ecodeclub/dsrouter/internal/errs"
)

type RouteState uint8

const (
	// DefaultRoute 没有设置路由 key，使用默认数据源
	DefaultRoute RouteState = iota
	// ExplicitRoute 设置了路由 key
	ExplicitRoute
)

func (s RouteState) String() string {
	if s == ExplicitRoute {
		return "EXPLICIT_ROUTE"
	}
	return "DEFAULT_ROUTE"
}

// Scope 一个工作单元内的路由状态。
// 它不是线程安全的，每个工作单元都应该创建自己的 Scope，并在结束时调用 Close
type Scope struct {
	r     *Router
	key   string
	state RouteState
}

func (r *Router) NewScope() *Scope {
	return &Scope{r: r}
}

// SetRoute key 没有注册时返回 UnknownRouteError，状态保持不变
func (s *Scope) SetRoute(key string) error {
	if _, ok := s.r.factories[key]; !ok {
		return errs.NewErrUnknownRoute(key)
	}
	s.key, s.state = key, ExplicitRoute
	return nil
}

func (s *Scope) ClearRoute() {
	s.key, s.state = "", DefaultRoute
}

func (s *Scope) State() RouteState {
	return s.state
}

func (s *Scope) Route() (string, bool) {
	return s.key, s.state == ExplicitRoute
}

// CurrentSession 只看 Scope 自身的状态，忽略 ctx 里的路由 key
func (s *Scope) CurrentSession(ctx context.Context) (Session, error) {
	return s.r.session(ctx, s.key, s.state == ExplicitRoute)
}

// Close 清理路由状态，Scope 之后还可以继续使用
func (s *Scope) Close() error {
	s.ClearRoute()
	return nil
}

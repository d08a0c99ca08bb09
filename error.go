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

import "github.com/ecodeclub/dsrouter/internal/errs"

// 哨兵错误，或者说预定义错误，谨慎添加
var (
	// ErrNoRows 代表没有找到数据
	ErrNoRows = errs.ErrNoRows
)

type (
	// ConfigurationError 启动期配置错误，服务不应该带着它继续启动
	ConfigurationError = errs.ConfigurationError
	// UnknownRouteError 路由 key 没有注册
	UnknownRouteError = errs.UnknownRouteError
	// TransactionEnlistmentError 数据源加入全局事务失败，当前工作单元应当视为失败
	TransactionEnlistmentError = errs.TransactionEnlistmentError
)

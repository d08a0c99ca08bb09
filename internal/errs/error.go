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

package errs

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyRegistry       = errors.New("dsrouter: 未注册任何 session factory")
	ErrEmptyResourceName   = errors.New("dsrouter: unique resource name 不能为空")
	ErrTxNotActive         = errors.New("dsrouter: 全局事务不处于活跃状态")
	ErrTooManyBranches     = errors.New("dsrouter: 全局事务分支数量超过上限")
	ErrNoRows              = errors.New("dsrouter: 未找到数据")
	ErrPointerOnly         = errors.New("dsrouter: 只支持指向结构体的一级指针")
	ErrMissingDefaultRoute = errors.New("dsrouter: 未配置默认数据源")

	// ErrResourceNameConflict 两个不同的资源使用了同一个资源名，它们会得到同一个 XA 分支标识
	ErrResourceNameConflict = errors.New("dsrouter: 不同的资源使用了相同的资源名")
)

// ConfigurationError 启动期配置错误，出现时服务不应当继续启动
type ConfigurationError struct {
	// Subject 出错的对象，例如数据源名字、mapper 文件路径
	Subject string
	Msg     string
	Cause   error
}

func (e *ConfigurationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("dsrouter: 配置错误 [%s] %s: %v", e.Subject, e.Msg, e.Cause)
	}
	return fmt.Sprintf("dsrouter: 配置错误 [%s] %s", e.Subject, e.Msg)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Cause
}

// UnknownRouteError 调用者指定了不存在的路由 key。
// 这是调用者的编程错误，不会降级到默认数据源
type UnknownRouteError struct {
	Key string
}

func (e *UnknownRouteError) Error() string {
	return fmt.Sprintf("dsrouter: 未知路由 %s", e.Key)
}

// TransactionEnlistmentError 数据源加入全局事务失败
type TransactionEnlistmentError struct {
	Resource string
	XID      string
	Cause    error
}

func (e *TransactionEnlistmentError) Error() string {
	return fmt.Sprintf("dsrouter: 资源 %s 加入全局事务 %s 失败: %v", e.Resource, e.XID, e.Cause)
}

func (e *TransactionEnlistmentError) Unwrap() error {
	return e.Cause
}

func NewConfigurationError(subject, msg string) error {
	return &ConfigurationError{Subject: subject, Msg: msg}
}

func WrapConfigurationError(subject, msg string, cause error) error {
	return &ConfigurationError{Subject: subject, Msg: msg, Cause: cause}
}

func NewErrDuplicateResourceName(name string) error {
	return NewConfigurationError(name, "unique resource name 重复")
}

func NewErrInvalidResourceName(name string) error {
	return NewConfigurationError(name, "unique resource name 只能包含字母、数字、'_'、'.' 和 '-'")
}

func NewErrUnknownRoute(key string) error {
	return &UnknownRouteError{Key: key}
}

func NewErrEnlistment(resource, xid string, cause error) error {
	return &TransactionEnlistmentError{Resource: resource, XID: xid, Cause: cause}
}

func NewErrStatementNotFound(key, id string) error {
	return fmt.Errorf("dsrouter: 数据源 %s 上未找到语句 %s", key, id)
}

func NewErrMissingParam(stmt, param string) error {
	return fmt.Errorf("dsrouter: 语句 %s 缺少参数 %s", stmt, param)
}

// NewUnsupportedDriverError 不支持驱动类型
func NewUnsupportedDriverError(driver string) error {
	return fmt.Errorf("dsrouter: 不支持driver类型 %s", driver)
}

// NewInvalidColumnError 返回代表未知列名的错误
// 通常来说，是结果实体里没有对应的字段
func NewInvalidColumnError(column string) error {
	return fmt.Errorf("dsrouter: 未知列 %s", column)
}

func NewErrBranchCommit(resource string, err error) error {
	return fmt.Errorf("dsrouter: 资源 [%s] Commit error: %w", resource, err)
}

func NewErrBranchRollback(resource string, err error) error {
	return fmt.Errorf("dsrouter: 资源 [%s] Rollback error: %w", resource, err)
}

func NewErrBranchPrepare(resource string, err error) error {
	return fmt.Errorf("dsrouter: 资源 [%s] Prepare error: %w", resource, err)
}

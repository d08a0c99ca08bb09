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

	"github.com/ecodeclub/dsrouter/internal/datasource/transaction"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// InGlobalTx 在一个全局事务中执行 fn。
// fn 返回 nil 时提交，返回 error 或者 panic 时回滚。
// ctx 中已经有活跃的全局事务时直接加入该事务，由最外层负责提交或者回滚。
// ctx 中的事务已经结束的时候开启新的全局事务
func (r *Router) InGlobalTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if tx := transaction.FromContext(ctx); tx != nil && tx.Status() == transaction.StatusActive {
		return fn(ctx)
	}
	ctx, tx := r.coordinator.Begin(ctx)
	defer func() {
		if p := recover(); p != nil {
			rbErr := tx.Rollback(ctx)
			r.logger.Error("global transaction panicked",
				zap.String("xid", tx.XID()), zap.Any("panic", p), zap.Error(rbErr))
			panic(p)
		}
	}()
	if err = fn(ctx); err != nil {
		return multierr.Append(err, tx.Rollback(ctx))
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("dsrouter: 提交全局事务 %s 失败: %w", tx.XID(), err)
	}
	return nil
}

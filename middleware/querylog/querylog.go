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

package querylog

import (
	"context"

	"github.com/ecodeclub/dsrouter"
	"go.uber.org/zap"
)

type MiddlewareBuilder struct {
	logFunc func(qc *dsrouter.QueryContext, query dsrouter.Query)
}

// NewBuilder 默认在 Debug 级别输出 SQL 和参数
func NewBuilder(logger *zap.Logger) *MiddlewareBuilder {
	return &MiddlewareBuilder{
		logFunc: func(qc *dsrouter.QueryContext, query dsrouter.Query) {
			logger.Debug("sql",
				zap.String("datasource", query.Datasource),
				zap.String("statement", qc.StatementID),
				zap.String("sql", query.SQL),
				zap.Any("args", query.Args))
		},
	}
}

func (b *MiddlewareBuilder) LogFunc(logFunc func(qc *dsrouter.QueryContext, query dsrouter.Query)) *MiddlewareBuilder {
	b.logFunc = logFunc
	return b
}

func (b *MiddlewareBuilder) Build() dsrouter.Middleware {
	return func(next dsrouter.HandleFunc) dsrouter.HandleFunc {
		return func(ctx context.Context, queryContext *dsrouter.QueryContext) *dsrouter.QueryResult {
			b.logFunc(queryContext, queryContext.GetQuery())
			return next(ctx, queryContext)
		}
	}
}

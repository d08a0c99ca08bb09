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

	"github.com/ecodeclub/dsrouter/internal/datasource"
	"github.com/ecodeclub/dsrouter/internal/mapping"
)

// Query 编译好的语句，Datasource 是目标数据源的路由 key
type Query = datasource.Query

type op uint8

const (
	opQuery op = iota
	opExec
)

type QueryContext struct {
	// Type 语句类型，select、insert、update 或者 delete
	Type string
	// StatementID namespace.id
	StatementID string
	q           Query
	op          op
	meta        *mapping.EntityMeta
}

func (qc *QueryContext) GetQuery() Query {
	return qc.q
}

type QueryResult struct {
	// Result 查询时是 []Record，执行时是 sql.Result
	Result any
	Err    error
}

type Middleware func(next HandleFunc) HandleFunc

type HandleFunc func(ctx context.Context, queryContext *QueryContext) *QueryResult

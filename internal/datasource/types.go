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

package datasource

import (
	"context"
	"database/sql"
)

// Query 是已经编译好、可以直接交给数据库执行的语句
type Query struct {
	SQL  string
	Args []any
	// Datasource 目标数据源的名字，也就是路由 key
	Datasource string
}

// Executor 执行查询
type Executor interface {
	Query(ctx context.Context, query Query) (*sql.Rows, error)
	Exec(ctx context.Context, query Query) (sql.Result, error)
}

// DataSource 代表一个逻辑数据源
type DataSource interface {
	Executor
	Close() error
}

// TxBeginner 开启本地事务
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (Tx, error)
}

type Tx interface {
	Executor
	Commit() error
	Rollback() error
}

// ConnProvider 提供独占的物理连接，XA 分支必须在同一个连接上开始和结束
type ConnProvider interface {
	Conn(ctx context.Context) (*sql.Conn, error)
}

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

package xa

import (
	"context"
	"database/sql"
	"database/sql/driver"

	"github.com/ecodeclub/dsrouter/internal/datasource"
	"github.com/ecodeclub/dsrouter/internal/datasource/transaction"
	"github.com/ecodeclub/dsrouter/internal/dialect"
)

var _ transaction.Branch = &xaBranch{}
var _ transaction.Branch = &localBranch{}

// xaBranch 分支从 Start 到 Commit/Rollback 都必须使用同一个连接
type xaBranch struct {
	resource string
	xid      dialect.XID
	xa       dialect.XA
	conn     *sql.Conn
	ended    bool
	prepared bool
}

func (b *xaBranch) Resource() string {
	return b.resource
}

func (b *xaBranch) Query(ctx context.Context, query datasource.Query) (*sql.Rows, error) {
	return b.conn.QueryContext(ctx, query.SQL, query.Args...)
}

func (b *xaBranch) Exec(ctx context.Context, query datasource.Query) (sql.Result, error) {
	return b.conn.ExecContext(ctx, query.SQL, query.Args...)
}

func (b *xaBranch) Prepare(ctx context.Context) error {
	if err := b.end(ctx); err != nil {
		return err
	}
	if err := b.run(ctx, b.xa.Prepare(b.xid)); err != nil {
		return err
	}
	b.prepared = true
	return nil
}

func (b *xaBranch) Commit(ctx context.Context, onePhase bool) error {
	if err := b.end(ctx); err != nil {
		b.discard()
		return err
	}
	if err := b.run(ctx, b.xa.Commit(b.xid, onePhase)); err != nil {
		b.discard()
		return err
	}
	return b.conn.Close()
}

func (b *xaBranch) Rollback(ctx context.Context) error {
	if err := b.end(ctx); err != nil {
		b.discard()
		return err
	}
	if err := b.run(ctx, b.xa.Rollback(b.xid, b.prepared)); err != nil {
		b.discard()
		return err
	}
	return b.conn.Close()
}

// end 每个分支只能 End 一次
func (b *xaBranch) end(ctx context.Context) error {
	if b.ended {
		return nil
	}
	if err := b.run(ctx, b.xa.End(b.xid)); err != nil {
		return err
	}
	b.ended = true
	return nil
}

func (b *xaBranch) run(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := b.conn.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// discard 连接上可能还挂着未结束的 XA 事务，不能放回连接池
func (b *xaBranch) discard() {
	_ = b.conn.Raw(func(any) error {
		return driver.ErrBadConn
	})
	_ = b.conn.Close()
}

// localBranch 用于不支持 XA 的方言。Prepare 什么也不做，
// 所以多个 localBranch 之间只能做到尽力而为的原子性
type localBranch struct {
	resource string
	tx       datasource.Tx
}

func (b *localBranch) Resource() string {
	return b.resource
}

func (b *localBranch) Query(ctx context.Context, query datasource.Query) (*sql.Rows, error) {
	return b.tx.Query(ctx, query)
}

func (b *localBranch) Exec(ctx context.Context, query datasource.Query) (sql.Result, error) {
	return b.tx.Exec(ctx, query)
}

func (b *localBranch) Prepare(_ context.Context) error {
	return nil
}

func (b *localBranch) Commit(_ context.Context, _ bool) error {
	return b.tx.Commit()
}

func (b *localBranch) Rollback(_ context.Context) error {
	return b.tx.Rollback()
}

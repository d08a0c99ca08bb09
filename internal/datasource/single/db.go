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

package single

import (
	"context"
	"database/sql"
	"time"

	"github.com/ecodeclub/dsrouter/internal/datasource"
	"github.com/ecodeclub/dsrouter/internal/datasource/transaction"
)

var _ datasource.TxBeginner = &DB{}
var _ datasource.DataSource = &DB{}
var _ datasource.ConnProvider = &DB{}

// DB 是一个连接池，对应一个逻辑数据源
type DB struct {
	db     *sql.DB
	driver string
}

type DBOption func(db *sql.DB)

func WithMaxOpenConns(n int) DBOption {
	return func(db *sql.DB) {
		if n > 0 {
			db.SetMaxOpenConns(n)
		}
	}
}

func WithMaxIdleConns(n int) DBOption {
	return func(db *sql.DB) {
		if n > 0 {
			db.SetMaxIdleConns(n)
		}
	}
}

func WithConnMaxLifetime(d time.Duration) DBOption {
	return func(db *sql.DB) {
		if d > 0 {
			db.SetConnMaxLifetime(d)
		}
	}
}

func WithConnMaxIdleTime(d time.Duration) DBOption {
	return func(db *sql.DB) {
		if d > 0 {
			db.SetConnMaxIdleTime(d)
		}
	}
}

func (db *DB) Query(ctx context.Context, query datasource.Query) (*sql.Rows, error) {
	return db.db.QueryContext(ctx, query.SQL, query.Args...)
}

func (db *DB) Exec(ctx context.Context, query datasource.Query) (sql.Result, error) {
	return db.db.ExecContext(ctx, query.SQL, query.Args...)
}

func (db *DB) Conn(ctx context.Context) (*sql.Conn, error) {
	return db.db.Conn(ctx)
}

// OpenDB 打开连接池。注意 sql.Open 并不会真的建立连接，需要调用 Ping
func OpenDB(driver string, dsn string, opts ...DBOption) (*DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	for _, opt := range opts {
		opt(db)
	}
	return &DB{db: db, driver: driver}, nil
}

func NewDB(db *sql.DB, opts ...DBOption) *DB {
	for _, opt := range opts {
		opt(db)
	}
	return &DB{db: db}
}

func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (datasource.Tx, error) {
	tx, err := db.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return transaction.NewTx(tx), nil
}

func (db *DB) Ping(ctx context.Context) error {
	return db.db.PingContext(ctx)
}

func (db *DB) Stats() sql.DBStats {
	return db.db.Stats()
}

func (db *DB) Driver() string {
	return db.driver
}

func (db *DB) Close() error {
	return db.db.Close()
}

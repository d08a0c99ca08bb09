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
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ecodeclub/dsrouter/internal/datasource"
	"github.com/ecodeclub/dsrouter/internal/datasource/single"
	"github.com/ecodeclub/dsrouter/internal/datasource/transaction"
	"github.com/ecodeclub/dsrouter/internal/dialect"
	"github.com/ecodeclub/dsrouter/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

func TestResourceSet_Wrap(t *testing.T) {
	pool := single.NewDB(&sql.DB{})
	testCases := []struct {
		name    string
		before  func(s *ResourceSet)
		resName string
		wantErr error
	}{
		{
			name:    "ok",
			resName: "db1",
		},
		{
			name:    "empty name",
			resName: "",
			wantErr: errs.WrapConfigurationError("xa", "wrap datasource", errs.ErrEmptyResourceName),
		},
		{
			name:    "invalid name",
			resName: "db1'; DROP",
			wantErr: errs.NewErrInvalidResourceName("db1'; DROP"),
		},
		{
			name: "duplicate name",
			before: func(s *ResourceSet) {
				_, err := s.Wrap(pool, "db1", dialect.MySQL)
				require.NoError(t, err)
			},
			resName: "db1",
			wantErr: errs.NewErrDuplicateResourceName("db1"),
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := NewResourceSet()
			defer releaseAll(s)
			if tc.before != nil {
				tc.before(s)
			}
			ds, err := s.Wrap(pool, tc.resName, dialect.MySQL)
			assert.Equal(t, tc.wantErr, err)
			if err != nil {
				var cfgErr *errs.ConfigurationError
				assert.True(t, errors.As(err, &cfgErr))
				return
			}
			assert.Equal(t, tc.resName, ds.ResourceName())
			assert.Equal(t, dialect.MySQL, ds.Dialect())
			assert.Contains(t, s.Names(), tc.resName)
		})
	}
}

// 资源名在整个进程内唯一，不同的 ResourceSet 也不能重复
func TestResourceSet_DuplicateAcrossSets(t *testing.T) {
	pool := single.NewDB(&sql.DB{})
	first := NewResourceSet()
	defer releaseAll(first)
	_, err := first.Wrap(pool, "db1", dialect.MySQL)
	require.NoError(t, err)

	// 每一次重复包装都会失败
	for i := 0; i < 2; i++ {
		s := NewResourceSet()
		_, err = s.Wrap(pool, "db1", dialect.MySQL)
		assert.Equal(t, errs.NewErrDuplicateResourceName("db1"), err)
		var cfgErr *errs.ConfigurationError
		assert.True(t, errors.As(err, &cfgErr))
		assert.Empty(t, s.Names())
	}
}

func TestDataSource_CloseReleasesName(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectClose()
	ds, err := NewResourceSet().Wrap(single.NewDB(db), "db1", dialect.MySQL)
	require.NoError(t, err)
	require.NoError(t, ds.Close())
	assert.NoError(t, mock.ExpectationsWereMet())

	s := NewResourceSet()
	defer releaseAll(s)
	again, err := s.Wrap(single.NewDB(&sql.DB{}), "db1", dialect.MySQL)
	require.NoError(t, err)
	// 已经关闭的数据源不能释放别人注册的名字
	ds.release()
	_, err = NewResourceSet().Wrap(single.NewDB(&sql.DB{}), "db1", dialect.MySQL)
	assert.Equal(t, errs.NewErrDuplicateResourceName("db1"), err)
	assert.Equal(t, "db1", again.ResourceName())
}

func TestResourceSet_Close(t *testing.T) {
	db1, mock1, err := sqlmock.New()
	require.NoError(t, err)
	db2, mock2, err := sqlmock.New()
	require.NoError(t, err)
	mock1.ExpectClose()
	mock2.ExpectClose()

	s := NewResourceSet()
	_, err = s.Wrap(single.NewDB(db1), "db1", dialect.MySQL)
	require.NoError(t, err)
	_, err = s.Wrap(single.NewDB(db2), "db2", dialect.MySQL)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.Empty(t, s.Names())
	assert.NoError(t, mock1.ExpectationsWereMet())
	assert.NoError(t, mock2.ExpectationsWereMet())

	other := NewResourceSet()
	defer releaseAll(other)
	_, err = other.Wrap(single.NewDB(&sql.DB{}), "db1", dialect.MySQL)
	assert.NoError(t, err)
}

// releaseAll 只释放名字，不关闭连接池
func releaseAll(s *ResourceSet) {
	s.lock.Lock()
	defer s.lock.Unlock()
	for _, ds := range s.names {
		ds.release()
	}
}

type XASuite struct {
	suite.Suite
	mockDB *sql.DB
	mock   sqlmock.Sqlmock
	sets   []*ResourceSet
}

func (s *XASuite) SetupTest() {
	var err error
	s.mockDB, s.mock, err = sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		s.T().Fatal(err)
	}
}

func (s *XASuite) TearDownTest() {
	_ = s.mockDB.Close()
	for _, set := range s.sets {
		releaseAll(set)
	}
	s.sets = nil
}

func (s *XASuite) wrapPool(db *sql.DB, dl dialect.Dialect) *DataSource {
	set := NewResourceSet()
	s.sets = append(s.sets, set)
	ds, err := set.Wrap(single.NewDB(db), "db1", dl)
	s.Require().NoError(err)
	return ds
}

func (s *XASuite) wrap(dl dialect.Dialect) *DataSource {
	return s.wrapPool(s.mockDB, dl)
}

func (s *XASuite) TestExecutor_NoGlobalTx() {
	t := s.T()
	ds := s.wrap(dialect.MySQL)
	s.mock.ExpectExec("UPDATE `user` SET `name`=?").
		WithArgs("Tom").WillReturnResult(sqlmock.NewResult(0, 1))
	res, err := ds.Exec(context.Background(), datasource.Query{
		SQL:  "UPDATE `user` SET `name`=?",
		Args: []any{"Tom"},
	})
	require.NoError(t, err)
	affected, err := res.RowsAffected()
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)
	assert.NoError(t, s.mock.ExpectationsWereMet())
}

func (s *XASuite) TestBranch_MySQL() {
	xid := dialect.XID{GTRID: "g1", BQUAL: "db1"}
	testCases := []struct {
		name     string
		mock     func(mock sqlmock.Sqlmock)
		finish   func(ctx context.Context, b transaction.Branch) error
		wantErr  error
		startErr error
	}{
		{
			name: "one phase commit",
			mock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("XA START 'g1','db1'").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec("INSERT INTO `user`(`id`) VALUES(?)").WithArgs(1).
					WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectExec("XA END 'g1','db1'").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec("XA COMMIT 'g1','db1' ONE PHASE").WillReturnResult(sqlmock.NewResult(0, 0))
			},
			finish: func(ctx context.Context, b transaction.Branch) error {
				return b.Commit(ctx, true)
			},
		},
		{
			name: "two phase commit",
			mock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("XA START 'g1','db1'").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec("INSERT INTO `user`(`id`) VALUES(?)").WithArgs(1).
					WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectExec("XA END 'g1','db1'").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec("XA PREPARE 'g1','db1'").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec("XA COMMIT 'g1','db1'").WillReturnResult(sqlmock.NewResult(0, 0))
			},
			finish: func(ctx context.Context, b transaction.Branch) error {
				if err := b.Prepare(ctx); err != nil {
					return err
				}
				return b.Commit(ctx, false)
			},
		},
		{
			name: "rollback before prepare",
			mock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("XA START 'g1','db1'").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec("INSERT INTO `user`(`id`) VALUES(?)").WithArgs(1).
					WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectExec("XA END 'g1','db1'").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec("XA ROLLBACK 'g1','db1'").WillReturnResult(sqlmock.NewResult(0, 0))
			},
			finish: func(ctx context.Context, b transaction.Branch) error {
				return b.Rollback(ctx)
			},
		},
		{
			name: "rollback after prepare",
			mock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("XA START 'g1','db1'").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec("INSERT INTO `user`(`id`) VALUES(?)").WithArgs(1).
					WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectExec("XA END 'g1','db1'").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec("XA PREPARE 'g1','db1'").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec("XA ROLLBACK 'g1','db1'").WillReturnResult(sqlmock.NewResult(0, 0))
			},
			finish: func(ctx context.Context, b transaction.Branch) error {
				if err := b.Prepare(ctx); err != nil {
					return err
				}
				return b.Rollback(ctx)
			},
		},
		{
			name: "prepare error",
			mock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("XA START 'g1','db1'").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec("INSERT INTO `user`(`id`) VALUES(?)").WithArgs(1).
					WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectExec("XA END 'g1','db1'").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec("XA PREPARE 'g1','db1'").WillReturnError(errors.New("prepare err"))
			},
			finish: func(ctx context.Context, b transaction.Branch) error {
				return b.Prepare(ctx)
			},
			wantErr: errors.New("prepare err"),
		},
		{
			name: "rollback after prepare error",
			mock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("XA START 'g1','db1'").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec("INSERT INTO `user`(`id`) VALUES(?)").WithArgs(1).
					WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectExec("XA END 'g1','db1'").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec("XA PREPARE 'g1','db1'").WillReturnError(errors.New("prepare err"))
				mock.ExpectExec("XA ROLLBACK 'g1','db1'").WillReturnResult(sqlmock.NewResult(0, 0))
			},
			finish: func(ctx context.Context, b transaction.Branch) error {
				if err := b.Prepare(ctx); err == nil {
					return errors.New("prepare should fail")
				}
				return b.Rollback(ctx)
			},
		},
		{
			name: "start error",
			mock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("XA START 'g1','db1'").WillReturnError(errors.New("start err"))
			},
			startErr: errors.New("start err"),
		},
	}
	for _, tc := range testCases {
		s.T().Run(tc.name, func(t *testing.T) {
			s.SetupTest()
			defer s.TearDownTest()
			tc.mock(s.mock)
			ds := s.wrap(dialect.MySQL)
			ctx := context.Background()
			b, err := ds.StartBranch(ctx, xid)
			assert.Equal(t, tc.startErr, err)
			if err != nil {
				return
			}
			assert.Equal(t, "db1", b.Resource())
			_, err = b.Exec(ctx, datasource.Query{SQL: "INSERT INTO `user`(`id`) VALUES(?)", Args: []any{1}})
			require.NoError(t, err)
			err = tc.finish(ctx, b)
			assert.Equal(t, tc.wantErr, err)
			assert.NoError(t, s.mock.ExpectationsWereMet())
		})
	}
}

func (s *XASuite) TestBranch_Postgres() {
	t := s.T()
	xid := dialect.XID{GTRID: "g1", BQUAL: "db1"}
	s.mock.ExpectExec("BEGIN").WillReturnResult(sqlmock.NewResult(0, 0))
	s.mock.ExpectExec("PREPARE TRANSACTION 'g1:db1'").WillReturnResult(sqlmock.NewResult(0, 0))
	s.mock.ExpectExec("COMMIT PREPARED 'g1:db1'").WillReturnResult(sqlmock.NewResult(0, 0))

	ds := s.wrap(dialect.PostgreSQL)
	ctx := context.Background()
	b, err := ds.StartBranch(ctx, xid)
	require.NoError(t, err)
	require.NoError(t, b.Prepare(ctx))
	require.NoError(t, b.Commit(ctx, false))
	assert.NoError(t, s.mock.ExpectationsWereMet())
}

func (s *XASuite) TestBranch_Local() {
	t := s.T()
	s.mock.ExpectBegin()
	s.mock.ExpectExec("DELETE FROM `user`").WillReturnResult(sqlmock.NewResult(0, 3))
	s.mock.ExpectCommit()

	ds := s.wrap(dialect.SQLite)
	ctx := context.Background()
	b, err := ds.StartBranch(ctx, dialect.XID{GTRID: "g1", BQUAL: "db1"})
	require.NoError(t, err)
	_, err = b.Exec(ctx, datasource.Query{SQL: "DELETE FROM `user`"})
	require.NoError(t, err)
	require.NoError(t, b.Prepare(ctx))
	require.NoError(t, b.Commit(ctx, false))
	assert.NoError(t, s.mock.ExpectationsWereMet())
}

// 全局事务中同一个数据源的多次执行只会开启一个分支
func (s *XASuite) TestExecutor_EnlistOnce() {
	t := s.T()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = mockDB.Close() }()

	ds := s.wrapPool(mockDB, dialect.MySQL)

	mock.ExpectExec("XA START '.+','db1'").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("XA END '.+','db1'").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("XA COMMIT '.+','db1' ONE PHASE").WillReturnResult(sqlmock.NewResult(0, 0))

	ctx, gtx := transaction.NewCoordinator().Begin(context.Background())
	_, err = ds.Exec(ctx, datasource.Query{SQL: "UPDATE `user` SET `age`=1"})
	require.NoError(t, err)
	_, err = ds.Exec(ctx, datasource.Query{SQL: "UPDATE `user` SET `age`=2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"db1"}, gtx.Resources())
	require.NoError(t, gtx.Commit(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func (s *XASuite) TestExecutor_EnlistError() {
	t := s.T()
	ds := s.wrap(dialect.MySQL)
	ctx, gtx := transaction.NewCoordinator().Begin(context.Background())
	require.NoError(t, gtx.Rollback(ctx))
	_, err := ds.Exec(ctx, datasource.Query{SQL: "UPDATE `user` SET `age`=1"})
	var enlistErr *errs.TransactionEnlistmentError
	require.True(t, errors.As(err, &enlistErr))
	assert.Equal(t, "db1", enlistErr.Resource)
	assert.ErrorIs(t, err, errs.ErrTxNotActive)
}

func TestXA(t *testing.T) {
	suite.Run(t, &XASuite{})
}

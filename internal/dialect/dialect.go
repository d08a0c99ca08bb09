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

package dialect

import (
	"strconv"

	"github.com/ecodeclub/dsrouter/internal/errs"
)

type BindStyle uint8

const (
	// BindQuestion MySQL、SQLite 风格 ?
	BindQuestion BindStyle = iota
	// BindDollar PostgreSQL 风格 $1
	BindDollar
	// BindAt SQL Server 风格 @p1
	BindAt
)

type Dialect struct {
	Name string
	// in MYSQL, it's "`"
	Quote     byte
	BindStyle BindStyle
	// XA 为 nil 说明该方言不支持 XA，只能退化为本地事务
	XA XA
}

var (
	MySQL = Dialect{
		Name:      "MySQL",
		Quote:     '`',
		BindStyle: BindQuestion,
		XA:        mysqlXA{},
	}
	PostgreSQL = Dialect{
		Name:      "PostgreSQL",
		Quote:     '"',
		BindStyle: BindDollar,
		XA:        postgresXA{},
	}
	SQLite = Dialect{
		Name:      "SQLite",
		Quote:     '`',
		BindStyle: BindQuestion,
	}
	SQLServer = Dialect{
		Name:      "SQLServer",
		Quote:     '"',
		BindStyle: BindAt,
	}
)

func Of(driver string) (Dialect, error) {
	switch driver {
	case "sqlite3":
		return SQLite, nil
	case "mysql":
		return MySQL, nil
	case "postgres":
		return PostgreSQL, nil
	case "sqlserver", "mssql":
		return SQLServer, nil
	default:
		return Dialect{}, errs.NewUnsupportedDriverError(driver)
	}
}

// BindVar 返回第 idx 个参数的占位符，idx 从 1 开始
func (d Dialect) BindVar(idx int) string {
	switch d.BindStyle {
	case BindDollar:
		return "$" + strconv.Itoa(idx)
	case BindAt:
		return "@p" + strconv.Itoa(idx)
	default:
		return "?"
	}
}

func (d Dialect) SupportXA() bool {
	return d.XA != nil
}

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

package mapping

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ecodeclub/dsrouter/internal/dialect"
	"github.com/ecodeclub/dsrouter/internal/errs"
	"github.com/ecodeclub/ekit/mapx"
	"github.com/valyala/bytebufferpool"
)

var paramPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

type Options struct {
	// MapUnderscoreToCamelCase 开启之后列 user_id 会映射到字段 userId
	MapUnderscoreToCamelCase bool
}

type EntityMeta struct {
	Name  string
	Table string
	// fields column => field
	fields map[string]string
}

// CompiledStatement 已经替换好占位符的语句
type CompiledStatement struct {
	// ID namespace.id
	ID     string
	Kind   Kind
	SQL    string
	Params []string
	// Result 只有 select 语句才有
	Result *EntityMeta
}

// Configuration 是一个数据源上所有 mapper 编译后的结果，构建完成之后只读
type Configuration struct {
	datasource string
	camel      bool
	entities   map[string]*EntityMeta
	statements map[string]*CompiledStatement
}

// Build 校验并编译 datasource 可以使用的全部 mapper。
// 任何一个 mapper 有问题都会返回 ConfigurationError，不会返回部分可用的结果
func Build(datasource string, dl dialect.Dialect, mappers []*Mapper, opts Options) (*Configuration, error) {
	c := &Configuration{
		datasource: datasource,
		camel:      opts.MapUnderscoreToCamelCase,
		entities:   make(map[string]*EntityMeta, 8),
		statements: make(map[string]*CompiledStatement, 32),
	}
	var used []*Mapper
	for _, m := range mappers {
		if m.Datasource != "" && m.Datasource != datasource {
			continue
		}
		if strings.TrimSpace(m.Namespace) == "" {
			return nil, errs.NewConfigurationError(m.Source, "namespace 不能为空")
		}
		if err := c.registerEntities(m); err != nil {
			return nil, err
		}
		used = append(used, m)
	}
	// 实体全部注册之后再处理语句，允许引用其它 mapper 里的实体
	for _, m := range used {
		if err := c.registerStatements(m, dl); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Configuration) registerEntities(m *Mapper) error {
	for _, e := range m.Entities {
		subject := fmt.Sprintf("%s#%s", m.Source, e.Name)
		if e.Name == "" {
			return errs.NewConfigurationError(m.Source, "实体名不能为空")
		}
		if _, ok := c.entities[e.Name]; ok {
			return errs.NewConfigurationError(subject, "实体重复定义")
		}
		meta := &EntityMeta{
			Name:   e.Name,
			Table:  e.Table,
			fields: make(map[string]string, len(e.Fields)),
		}
		if meta.Table == "" {
			meta.Table = underscoreName(e.Name)
		}
		fields := make(map[string]struct{}, len(e.Fields))
		for _, f := range e.Fields {
			if f.Column == "" || f.Field == "" {
				return errs.NewConfigurationError(subject, "column 和 field 都不能为空")
			}
			if _, ok := meta.fields[f.Column]; ok {
				return errs.NewConfigurationError(subject, "列重复映射 "+f.Column)
			}
			if _, ok := fields[f.Field]; ok {
				return errs.NewConfigurationError(subject, "字段重复映射 "+f.Field)
			}
			meta.fields[f.Column] = f.Field
			fields[f.Field] = struct{}{}
		}
		c.entities[e.Name] = meta
	}
	return nil
}

func (c *Configuration) registerStatements(m *Mapper, dl dialect.Dialect) error {
	for _, s := range m.Statements {
		id := m.Namespace + "." + s.ID
		subject := fmt.Sprintf("%s#%s", m.Source, id)
		if s.ID == "" {
			return errs.NewConfigurationError(m.Source, "语句 id 不能为空")
		}
		if _, ok := c.statements[id]; ok {
			return errs.NewConfigurationError(subject, "语句重复定义")
		}
		if !s.Kind.valid() {
			return errs.NewConfigurationError(subject, fmt.Sprintf("不支持的语句类型 %q", s.Kind))
		}
		stmt := &CompiledStatement{ID: id, Kind: s.Kind}
		if s.Kind == KindSelect {
			if s.Result == "" {
				return errs.NewConfigurationError(subject, "select 语句必须指定 result")
			}
			meta, ok := c.entities[s.Result]
			if !ok {
				return errs.NewConfigurationError(subject, "引用了未知实体 "+s.Result)
			}
			stmt.Result = meta
		}
		query, params, err := compile(s.SQL, dl)
		if err != nil {
			return errs.WrapConfigurationError(subject, "语句格式错误", err)
		}
		stmt.SQL, stmt.Params = query, params
		c.statements[id] = stmt
	}
	return nil
}

// compile 把 #{name} 替换成方言对应的占位符，并按出现顺序返回参数名
func compile(raw string, dl dialect.Dialect) (string, []string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil, fmt.Errorf("sql 不能为空")
	}
	buffer := bytebufferpool.Get()
	defer bytebufferpool.Put(buffer)
	var params []string
	rest := raw
	for {
		start := strings.Index(rest, "#{")
		if start < 0 {
			_, _ = buffer.WriteString(rest)
			break
		}
		end := strings.IndexByte(rest[start:], '}')
		if end < 0 {
			return "", nil, fmt.Errorf("占位符未闭合: %s", rest[start:])
		}
		name := strings.TrimSpace(rest[start+2 : start+end])
		if !paramPattern.MatchString(name) {
			return "", nil, fmt.Errorf("非法的参数名 %q", name)
		}
		params = append(params, name)
		_, _ = buffer.WriteString(rest[:start])
		_, _ = buffer.WriteString(dl.BindVar(len(params)))
		rest = rest[start+end+1:]
	}
	return buffer.String(), params, nil
}

func (c *Configuration) Datasource() string {
	return c.datasource
}

func (c *Configuration) Statement(id string) (*CompiledStatement, bool) {
	s, ok := c.statements[id]
	return s, ok
}

// Statements 所有语句 id，按字典序
func (c *Configuration) Statements() []string {
	ids := mapx.Keys[string, *CompiledStatement](c.statements)
	sort.Strings(ids)
	return ids
}

func (c *Configuration) Entity(name string) (*EntityMeta, bool) {
	e, ok := c.entities[name]
	return e, ok
}

// FieldName 列名到字段名。显式映射优先，其次是下划线转驼峰
func (c *Configuration) FieldName(e *EntityMeta, column string) string {
	if e != nil {
		if f, ok := e.fields[column]; ok {
			return f
		}
	}
	if c.camel {
		return UnderscoreToCamel(column)
	}
	return column
}

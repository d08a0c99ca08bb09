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

// Package mapping 负责加载和校验 mapper 文件。
// 一个 mapper 文件描述了数据库记录和内存实体之间的映射，以及一组具名语句
package mapping

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"

	"github.com/ecodeclub/dsrouter/internal/errs"
	"gopkg.in/yaml.v3"
)

type Kind string

const (
	KindSelect Kind = "select"
	KindInsert Kind = "insert"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

func (k Kind) valid() bool {
	switch k {
	case KindSelect, KindInsert, KindUpdate, KindDelete:
		return true
	default:
		return false
	}
}

// Mapper 对应一个 mapper 文件
type Mapper struct {
	Namespace string `yaml:"namespace"`
	// Datasource 为空时所有数据源都会加载这个 mapper
	Datasource string      `yaml:"datasource"`
	Entities   []Entity    `yaml:"entities"`
	Statements []Statement `yaml:"statements"`
	// Source 文件路径，用于错误信息
	Source string `yaml:"-"`
}

type Entity struct {
	Name string `yaml:"name"`
	// Table 为空时使用 Name 的下划线形式
	Table  string         `yaml:"table"`
	Fields []FieldMapping `yaml:"fields"`
}

// FieldMapping 显式指定列和字段的对应关系，优先级高于自动转换
type FieldMapping struct {
	Column string `yaml:"column"`
	Field  string `yaml:"field"`
}

type Statement struct {
	ID   string `yaml:"id"`
	Kind Kind   `yaml:"kind"`
	// Result select 语句结果对应的实体名
	Result string `yaml:"result"`
	SQL    string `yaml:"sql"`
}

// Parse 解析一个 mapper 文件，不认识的字段会被当作错误
func Parse(source string, data []byte) (*Mapper, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	m := &Mapper{}
	if err := dec.Decode(m); err != nil {
		return nil, errs.WrapConfigurationError(source, "mapper 文件格式错误", err)
	}
	m.Source = source
	return m, nil
}

// Load 按照 glob 模式查找并解析 mapper 文件，结果按照路径排序。
// 同一个文件被多个模式匹配时只加载一次
func Load(patterns ...string) ([]*Mapper, error) {
	seen := make(map[string]struct{}, 8)
	var paths []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, errs.WrapConfigurationError(pattern, "mapper 路径模式错误", err)
		}
		for _, p := range matches {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	res := make([]*Mapper, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, errs.WrapConfigurationError(p, "读取 mapper 文件失败", err)
		}
		m, err := Parse(p, data)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, nil
}

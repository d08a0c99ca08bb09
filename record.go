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
	"database/sql"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ecodeclub/dsrouter/internal/errs"
)

var scannerType = reflect.TypeOf((*sql.Scanner)(nil)).Elem()

// fieldIndexes 结构体类型 => 小写字段名 => 字段下标
var fieldIndexes sync.Map

// indexesOf 字段名优先取 dsrouter 标签，其次是字段本身的名字，匹配时忽略大小写
func indexesOf(typ reflect.Type) map[string]int {
	if v, ok := fieldIndexes.Load(typ); ok {
		return v.(map[string]int)
	}
	res := make(map[string]int, typ.NumField())
	for i := 0; i < typ.NumField(); i++ {
		fd := typ.Field(i)
		if !fd.IsExported() {
			continue
		}
		name := fd.Name
		if tag, ok := fd.Tag.Lookup("dsrouter"); ok {
			if tag == "-" {
				continue
			}
			if tag != "" {
				name = tag
			}
		}
		res[strings.ToLower(name)] = i
	}
	fieldIndexes.Store(typ, res)
	return res
}

// assign 把 r 放进 dst 指向的结构体。r 中有结构体不存在的字段时返回错误
func assign(r Record, dst any) error {
	val := reflect.ValueOf(dst)
	if val.Kind() != reflect.Pointer || val.Elem().Kind() != reflect.Struct {
		return errs.ErrPointerOnly
	}
	val = val.Elem()
	indexes := indexesOf(val.Type())
	for name, v := range r {
		idx, ok := indexes[strings.ToLower(name)]
		if !ok {
			return errs.NewInvalidColumnError(name)
		}
		if err := setValue(val.Field(idx), v); err != nil {
			return fmt.Errorf("dsrouter: 字段 %s: %w", name, err)
		}
	}
	return nil
}

func setValue(fv reflect.Value, v any) error {
	if reflect.PointerTo(fv.Type()).Implements(scannerType) {
		return fv.Addr().Interface().(sql.Scanner).Scan(v)
	}
	if v == nil {
		fv.Set(reflect.Zero(fv.Type()))
		return nil
	}
	if fv.Kind() == reflect.Pointer {
		p := reflect.New(fv.Type().Elem())
		if err := setValue(p.Elem(), v); err != nil {
			return err
		}
		fv.Set(p)
		return nil
	}
	// 部分驱动用 []byte 返回文本和数字
	if b, ok := v.([]byte); ok && fv.Kind() != reflect.Slice {
		v = string(b)
	}
	src := reflect.ValueOf(v)
	if s, ok := v.(string); ok {
		return setString(fv, s)
	}
	if fv.Kind() == reflect.String {
		if _, ok := v.(time.Time); !ok {
			fv.SetString(fmt.Sprint(v))
			return nil
		}
	}
	if src.Type().ConvertibleTo(fv.Type()) {
		fv.Set(src.Convert(fv.Type()))
		return nil
	}
	return fmt.Errorf("不能把 %T 转换为 %s", v, fv.Type())
}

func setString(fv reflect.Value, s string) error {
	switch fv.Kind() {
	case reflect.String:
		fv.SetString(s)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := strconv.ParseInt(s, 10, fv.Type().Bits())
		if err != nil {
			return err
		}
		fv.SetInt(i)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(s, 10, fv.Type().Bits())
		if err != nil {
			return err
		}
		fv.SetUint(u)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, fv.Type().Bits())
		if err != nil {
			return err
		}
		fv.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		fv.SetBool(b)
	case reflect.Slice:
		if fv.Type().Elem().Kind() != reflect.Uint8 {
			return fmt.Errorf("不能把 string 转换为 %s", fv.Type())
		}
		fv.SetBytes([]byte(s))
	default:
		return fmt.Errorf("不能把 string 转换为 %s", fv.Type())
	}
	return nil
}

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
	"testing"
	"time"

	"github.com/ecodeclub/dsrouter/internal/errs"
	"github.com/stretchr/testify/assert"
)

type recordModel struct {
	Id       int64
	Name     string `dsrouter:"userName"`
	Age      int8
	Score    float64
	Active   bool
	Nick     *string
	Remark   sql.NullString
	Avatar   []byte
	Ignored  string `dsrouter:"-"`
	Birthday time.Time
	internal string
}

func TestAssign(t *testing.T) {
	birthday := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	nick := "tom"
	testCases := []struct {
		name    string
		record  Record
		dst     any
		want    any
		wantErr error
	}{
		{
			name: "native types",
			record: Record{
				"id":       int64(1),
				"userName": "Tom",
				"age":      int64(18),
				"score":    float64(99.5),
				"active":   true,
				"birthday": birthday,
			},
			dst: &recordModel{},
			want: &recordModel{
				Id: 1, Name: "Tom", Age: 18, Score: 99.5, Active: true, Birthday: birthday,
			},
		},
		{
			name: "text protocol",
			record: Record{
				"ID":     []byte("1"),
				"age":    []byte("18"),
				"score":  []byte("99.5"),
				"active": []byte("1"),
				"avatar": []byte("png"),
			},
			dst:  &recordModel{},
			want: &recordModel{Id: 1, Age: 18, Score: 99.5, Active: true, Avatar: []byte("png")},
		},
		{
			name: "pointer and scanner",
			record: Record{
				"nick":   "tom",
				"remark": "hello",
			},
			dst: &recordModel{},
			want: &recordModel{
				Nick:   &nick,
				Remark: sql.NullString{String: "hello", Valid: true},
			},
		},
		{
			name: "null",
			record: Record{
				"nick":   nil,
				"remark": nil,
				"id":     nil,
			},
			dst:  &recordModel{Id: 3},
			want: &recordModel{},
		},
		{
			name:    "number to string",
			record:  Record{"userName": int64(12)},
			dst:     &recordModel{},
			want:    &recordModel{Name: "12"},
		},
		{
			name:    "unknown column",
			record:  Record{"ignored": "x"},
			dst:     &recordModel{},
			wantErr: errs.NewInvalidColumnError("ignored"),
		},
		{
			name:    "unexported field",
			record:  Record{"internal": "x"},
			dst:     &recordModel{},
			wantErr: errs.NewInvalidColumnError("internal"),
		},
		{
			name:    "not pointer",
			record:  Record{},
			dst:     recordModel{},
			wantErr: errs.ErrPointerOnly,
		},
		{
			name:    "pointer to basic type",
			record:  Record{},
			dst:     new(int),
			wantErr: errs.ErrPointerOnly,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := assign(tc.record, tc.dst)
			assert.Equal(t, tc.wantErr, err)
			if err != nil {
				return
			}
			assert.Equal(t, tc.want, tc.dst)
		})
	}
}

func TestAssign_ConvertError(t *testing.T) {
	err := assign(Record{"age": "eighteen"}, &recordModel{})
	assert.Error(t, err)
	err = assign(Record{"birthday": int64(1)}, &recordModel{})
	assert.Error(t, err)
}

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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnderscoreToCamel(t *testing.T) {
	testCases := []struct {
		name string
		src  string
		want string
	}{
		{name: "single word", src: "id", want: "id"},
		{name: "two words", src: "user_id", want: "userId"},
		{name: "upper case", src: "USER_ID", want: "userId"},
		{name: "three words", src: "create_time_ms", want: "createTimeMs"},
		{name: "leading underscore", src: "_version", want: "version"},
		{name: "trailing underscore", src: "name_", want: "name"},
		{name: "double underscore", src: "a__b", want: "aB"},
		{name: "empty", src: "", want: ""},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, UnderscoreToCamel(tc.src))
		})
	}
}

func TestUnderscoreName(t *testing.T) {
	assert.Equal(t, "user", underscoreName("User"))
	assert.Equal(t, "user_profile", underscoreName("UserProfile"))
	assert.Equal(t, "fund_sale_order", underscoreName("FundSaleOrder"))
}

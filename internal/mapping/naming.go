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
	"unicode"
)

// UnderscoreToCamel user_id => userId, USER_ID => userId
func UnderscoreToCamel(name string) string {
	buf := make([]rune, 0, len(name))
	upper := false
	for _, v := range name {
		if v == '_' {
			upper = len(buf) > 0
			continue
		}
		if upper {
			buf = append(buf, unicode.ToUpper(v))
			upper = false
			continue
		}
		buf = append(buf, unicode.ToLower(v))
	}
	return string(buf)
}

// underscoreName UserProfile => user_profile
func underscoreName(name string) string {
	var buf []rune
	for i, v := range name {
		if unicode.IsUpper(v) {
			if i != 0 {
				buf = append(buf, '_')
			}
			buf = append(buf, unicode.ToLower(v))
		} else {
			buf = append(buf, v)
		}
	}
	return string(buf)
}

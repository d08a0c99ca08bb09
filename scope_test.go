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
	"context"
	"testing"

	"github.com/ecodeclub/dsrouter/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScope(t *testing.T) {
	r := newTestRouter(t)
	ctx := context.Background()
	s := r.NewScope()
	assert.Equal(t, DefaultRoute, s.State())

	sess, err := s.CurrentSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "db1", sess.Key())

	require.NoError(t, s.SetRoute("db2"))
	assert.Equal(t, ExplicitRoute, s.State())
	sess, err = s.CurrentSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "db2", sess.Key())

	// 失败的 SetRoute 不改变状态
	assert.Equal(t, errs.NewErrUnknownRoute("db3"), s.SetRoute("db3"))
	key, explicit := s.Route()
	assert.True(t, explicit)
	assert.Equal(t, "db2", key)

	s.ClearRoute()
	assert.Equal(t, DefaultRoute, s.State())
	sess, err = s.CurrentSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "db1", sess.Key())
}

func TestScope_Close(t *testing.T) {
	r := newTestRouter(t)
	s := r.NewScope()
	require.NoError(t, s.SetRoute("db2"))
	require.NoError(t, s.Close())
	_, explicit := s.Route()
	assert.False(t, explicit)
}

// Scope 只看自己的状态，ctx 中的路由 key 对它不生效
func TestScope_IgnoresContextRoute(t *testing.T) {
	r := newTestRouter(t)
	ctx, err := r.SetRoute(context.Background(), "db2")
	require.NoError(t, err)
	sess, err := r.NewScope().CurrentSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "db1", sess.Key())
}

func TestRouteState_String(t *testing.T) {
	assert.Equal(t, "DEFAULT_ROUTE", DefaultRoute.String())
	assert.Equal(t, "EXPLICIT_ROUTE", ExplicitRoute.String())
}

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

package transaction

import (
	"context"
	"sync"

	"github.com/ecodeclub/dsrouter/internal/dialect"
	"github.com/ecodeclub/dsrouter/internal/errs"
	"github.com/ecodeclub/dsrouter/internal/metrics"
	"github.com/ecodeclub/ekit/slice"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type Status uint8

const (
	StatusActive Status = iota
	StatusPreparing
	StatusCommitted
	StatusAborted
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusPreparing:
		return "preparing"
	case StatusCommitted:
		return "committed"
	default:
		return "aborted"
	}
}

// GlobalTx 全局事务。每个资源最多只有一个分支，分支按照加入的顺序提交
type GlobalTx struct {
	xid      string
	c        *Coordinator
	lock     sync.Mutex
	status   Status
	branches []Branch

	// index 按资源本身索引分支，names 保证同一个资源名只对应一个资源
	index map[Resource]Branch
	names map[string]Resource

	// starting 正在开启分支的资源，开启结束后关闭对应的 channel
	starting map[Resource]chan struct{}
}

func (g *GlobalTx) XID() string {
	return g.xid
}

func (g *GlobalTx) Status() Status {
	g.lock.Lock()
	defer g.lock.Unlock()
	return g.status
}

// Resources 已经加入事务的资源名，按加入顺序
func (g *GlobalTx) Resources() []string {
	g.lock.Lock()
	defer g.lock.Unlock()
	return slice.Map[Branch, string](g.branches, func(idx int, src Branch) string {
		return src.Resource()
	})
}

// Enlist 把资源加入事务。同一个资源重复加入会拿到同一个分支。
// 开启分支需要访问数据库，这期间不持有锁，同一个资源的并发调用会等待第一个调用的结果
func (g *GlobalTx) Enlist(ctx context.Context, res Resource) (Branch, error) {
	name := res.ResourceName()
	for {
		g.lock.Lock()
		if b, ok := g.index[res]; ok {
			g.lock.Unlock()
			return b, nil
		}
		if ch, ok := g.starting[res]; ok {
			g.lock.Unlock()
			select {
			case <-ch:
				continue
			case <-ctx.Done():
				return nil, errs.NewErrEnlistment(name, g.xid, ctx.Err())
			}
		}
		if err := g.checkEnlist(res, name); err != nil {
			g.lock.Unlock()
			g.c.metrics.ObserveEnlistment(name, err)
			return nil, errs.NewErrEnlistment(name, g.xid, err)
		}
		ch := make(chan struct{})
		g.starting[res] = ch
		g.names[name] = res
		g.lock.Unlock()

		b, err := res.StartBranch(ctx, dialect.XID{GTRID: g.xid, BQUAL: name})
		return g.enlisted(ctx, res, name, ch, b, err)
	}
}

func (g *GlobalTx) checkEnlist(res Resource, name string) error {
	if g.status != StatusActive {
		return errs.ErrTxNotActive
	}
	if other, ok := g.names[name]; ok && other != res {
		return errs.ErrResourceNameConflict
	}
	if g.c.maxBranches > 0 && len(g.branches)+len(g.starting) >= g.c.maxBranches {
		return errs.ErrTooManyBranches
	}
	return nil
}

func (g *GlobalTx) enlisted(ctx context.Context, res Resource, name string,
	ch chan struct{}, b Branch, err error) (Branch, error) {
	g.lock.Lock()
	delete(g.starting, res)
	close(ch)
	if err != nil {
		delete(g.names, name)
		g.lock.Unlock()
		g.c.metrics.ObserveEnlistment(name, err)
		return nil, errs.NewErrEnlistment(name, g.xid, err)
	}
	// 开启分支的过程中事务已经提交或者回滚
	if g.status != StatusActive {
		delete(g.names, name)
		g.lock.Unlock()
		err = multierr.Append(errs.ErrTxNotActive, b.Rollback(ctx))
		g.c.metrics.ObserveEnlistment(name, err)
		return nil, errs.NewErrEnlistment(name, g.xid, err)
	}
	g.branches = append(g.branches, b)
	g.index[res] = b
	g.lock.Unlock()
	g.c.metrics.ObserveEnlistment(name, nil)
	g.c.logger.Debug("enlisted resource",
		zap.String("xid", g.xid), zap.String("resource", name))
	return b, nil
}

// Commit 只有一个分支时走一阶段提交，否则先 Prepare 全部分支，
// 任何一个 Prepare 失败都会回滚所有分支
func (g *GlobalTx) Commit(ctx context.Context) error {
	g.lock.Lock()
	if g.status != StatusActive {
		g.lock.Unlock()
		return errs.ErrTxNotActive
	}
	g.status = StatusPreparing
	branches := g.branches
	g.lock.Unlock()

	var err error
	switch len(branches) {
	case 0:
	case 1:
		err = g.commitOnePhase(ctx, branches[0])
	default:
		err = g.commitTwoPhase(ctx, branches)
	}
	if err != nil && g.Status() == StatusAborted {
		return err
	}
	g.finish(StatusCommitted)
	if err != nil {
		// 第二阶段的失败只能记录，其余分支已经提交
		g.c.logger.Error("global transaction partially committed",
			zap.String("xid", g.xid), zap.Error(err))
		g.c.metrics.ObserveGlobalTx(metrics.OutcomeFailed)
		return err
	}
	g.c.metrics.ObserveGlobalTx(metrics.OutcomeCommitted)
	g.c.logger.Debug("global transaction committed", zap.String("xid", g.xid))
	return nil
}

func (g *GlobalTx) commitOnePhase(ctx context.Context, b Branch) error {
	if err := b.Commit(ctx, true); err != nil {
		err = errs.NewErrBranchCommit(b.Resource(), err)
		g.finish(StatusAborted)
		g.c.metrics.ObserveGlobalTx(metrics.OutcomeRolledBack)
		return err
	}
	return nil
}

func (g *GlobalTx) commitTwoPhase(ctx context.Context, branches []Branch) error {
	for _, b := range branches {
		if er := b.Prepare(ctx); er != nil {
			err := errs.NewErrBranchPrepare(b.Resource(), er)
			g.finish(StatusAborted)
			g.c.metrics.ObserveGlobalTx(metrics.OutcomeRolledBack)
			g.c.logger.Warn("prepare failed, rolling back global transaction",
				zap.String("xid", g.xid), zap.String("resource", b.Resource()), zap.Error(er))
			return multierr.Append(err, rollbackAll(ctx, branches))
		}
	}
	var err error
	for _, b := range branches {
		if er := b.Commit(ctx, false); er != nil {
			err = multierr.Append(err, errs.NewErrBranchCommit(b.Resource(), er))
		}
	}
	return err
}

// Rollback 回滚所有分支，并合并每个分支的错误
func (g *GlobalTx) Rollback(ctx context.Context) error {
	g.lock.Lock()
	if g.status != StatusActive {
		g.lock.Unlock()
		return errs.ErrTxNotActive
	}
	g.status = StatusAborted
	branches := g.branches
	g.lock.Unlock()

	err := rollbackAll(ctx, branches)
	if err != nil {
		g.c.logger.Warn("rollback global transaction",
			zap.String("xid", g.xid), zap.Error(err))
	}
	g.c.metrics.ObserveGlobalTx(metrics.OutcomeRolledBack)
	return err
}

func (g *GlobalTx) finish(s Status) {
	g.lock.Lock()
	g.status = s
	g.lock.Unlock()
}

func rollbackAll(ctx context.Context, branches []Branch) error {
	var err error
	for _, b := range branches {
		if er := b.Rollback(ctx); er != nil {
			err = multierr.Append(err, errs.NewErrBranchRollback(b.Resource(), er))
		}
	}
	return err
}

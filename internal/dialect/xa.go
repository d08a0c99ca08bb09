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

import "fmt"

// XID 标识一个全局事务里的一个分支
type XID struct {
	// GTRID 全局事务 ID
	GTRID string
	// BQUAL 分支限定符，这里使用资源名
	BQUAL string
}

func (x XID) String() string {
	return x.GTRID + ":" + x.BQUAL
}

// XA 定义了一个方言在分支生命周期中每一步需要执行的语句
type XA interface {
	Start(xid XID) []string
	// End 结束分支上的工作，之后只能 Prepare、Commit 或者 Rollback
	End(xid XID) []string
	// Prepare 两阶段提交的第一阶段，调用前分支已经 End
	Prepare(xid XID) []string
	// Commit onePhase 为 true 时说明分支没有经过 Prepare
	Commit(xid XID, onePhase bool) []string
	// Rollback prepared 说明分支是否已经 Prepare
	Rollback(xid XID, prepared bool) []string
}

type mysqlXA struct{}

func (mysqlXA) xid(xid XID) string {
	return fmt.Sprintf("'%s','%s'", xid.GTRID, xid.BQUAL)
}

func (m mysqlXA) Start(xid XID) []string {
	return []string{"XA START " + m.xid(xid)}
}

func (m mysqlXA) End(xid XID) []string {
	return []string{"XA END " + m.xid(xid)}
}

func (m mysqlXA) Prepare(xid XID) []string {
	return []string{"XA PREPARE " + m.xid(xid)}
}

func (m mysqlXA) Commit(xid XID, onePhase bool) []string {
	x := m.xid(xid)
	if onePhase {
		return []string{"XA COMMIT " + x + " ONE PHASE"}
	}
	return []string{"XA COMMIT " + x}
}

// Rollback MySQL 对 IDLE 和 PREPARED 状态的分支使用同一个语句
func (m mysqlXA) Rollback(xid XID, _ bool) []string {
	return []string{"XA ROLLBACK " + m.xid(xid)}
}

// postgresXA 基于 PREPARE TRANSACTION，需要服务端 max_prepared_transactions > 0
type postgresXA struct{}

func (postgresXA) gid(xid XID) string {
	return "'" + xid.String() + "'"
}

func (postgresXA) Start(_ XID) []string {
	return []string{"BEGIN"}
}

func (postgresXA) End(_ XID) []string {
	return nil
}

func (p postgresXA) Prepare(xid XID) []string {
	return []string{"PREPARE TRANSACTION " + p.gid(xid)}
}

func (p postgresXA) Commit(xid XID, onePhase bool) []string {
	if onePhase {
		return []string{"COMMIT"}
	}
	return []string{"COMMIT PREPARED " + p.gid(xid)}
}

func (p postgresXA) Rollback(xid XID, prepared bool) []string {
	if prepared {
		return []string{"ROLLBACK PREPARED " + p.gid(xid)}
	}
	return []string{"ROLLBACK"}
}

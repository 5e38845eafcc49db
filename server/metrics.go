package server

import (
	"sync/atomic"

	"github.com/dustin/go-humanize"
)

// ServerMetrics 记录服务运行期的关键指标（用于监控与调试）
type ServerMetrics struct {
	ConnectionsAccepted int64 // 成功升级并注册的连接数
	ConnectionsClosed   int64 // 已清理的连接数
	ReportsApplied      int64 // 成功写入注册表的位置上报
	MalformedDropped    int64 // 解析失败被静默丢弃的帧
	NonTextDropped      int64 // 非文本帧（二进制）被忽略
	SnapshotsSent       int64 // 回发的快照数
	SnapshotBytes       int64 // 回发快照累计字节
	WriteErrors         int64 // 写出失败次数
}

func (m *ServerMetrics) IncAccepted()         { atomic.AddInt64(&m.ConnectionsAccepted, 1) }
func (m *ServerMetrics) IncClosed()           { atomic.AddInt64(&m.ConnectionsClosed, 1) }
func (m *ServerMetrics) IncReportsApplied()   { atomic.AddInt64(&m.ReportsApplied, 1) }
func (m *ServerMetrics) IncMalformedDropped() { atomic.AddInt64(&m.MalformedDropped, 1) }
func (m *ServerMetrics) IncNonTextDropped()   { atomic.AddInt64(&m.NonTextDropped, 1) }
func (m *ServerMetrics) IncWriteErrors()      { atomic.AddInt64(&m.WriteErrors, 1) }
func (m *ServerMetrics) AddSnapshot(n int) {
	atomic.AddInt64(&m.SnapshotsSent, 1)
	atomic.AddInt64(&m.SnapshotBytes, int64(n))
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *ServerMetrics) Snapshot() map[string]any {
	bytes := atomic.LoadInt64(&m.SnapshotBytes)
	return map[string]any{
		"connections_accepted": atomic.LoadInt64(&m.ConnectionsAccepted),
		"connections_closed":   atomic.LoadInt64(&m.ConnectionsClosed),
		"reports_applied":      atomic.LoadInt64(&m.ReportsApplied),
		"malformed_dropped":    atomic.LoadInt64(&m.MalformedDropped),
		"non_text_dropped":     atomic.LoadInt64(&m.NonTextDropped),
		"snapshots_sent":       atomic.LoadInt64(&m.SnapshotsSent),
		"snapshot_bytes":       bytes,
		"snapshot_bytes_human": humanize.Bytes(uint64(bytes)),
		"write_errors":         atomic.LoadInt64(&m.WriteErrors),
	}
}

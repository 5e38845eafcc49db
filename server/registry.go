package server

import (
	"sync"

	"github.com/google/uuid"

	"presencesync/protocol"
)

// ClientRecord 注册表内的单条记录，仅由 Registry 持有和修改
type ClientRecord struct {
	ID       protocol.ClientID
	Position protocol.Position
}

// Registry 进程级共享注册表：连接标识 -> 最近位置
// 所有访问都在同一把锁内完成，锁内只做内存读写，绝不跨网络 I/O
type Registry struct {
	mu      sync.RWMutex
	clients map[protocol.ClientID]*ClientRecord
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{clients: make(map[protocol.ClientID]*ClientRecord)}
}

// Register 生成新的随机标识并以默认位置 (0,0) 插入记录
func (r *Registry) Register() protocol.ClientID {
	id := protocol.ClientID(uuid.NewString())
	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		if _, taken := r.clients[id]; !taken {
			break
		}
		id = protocol.ClientID(uuid.NewString())
	}
	r.clients[id] = &ClientRecord{ID: id}
	return id
}

// UpdatePosition 覆盖指定连接的位置；标识不存在时为 no-op
func (r *Registry) UpdatePosition(id protocol.ClientID, pos protocol.Position) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.clients[id]
	if !ok {
		return false
	}
	rec.Position = pos
	return true
}

// Snapshot 返回某一时刻全部记录的副本，exclude 非空时剔除该连接自身
func (r *Registry) Snapshot(exclude protocol.ClientID) protocol.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := make(protocol.Snapshot, 0, len(r.clients))
	for id, rec := range r.clients {
		if exclude != "" && id == exclude {
			continue
		}
		snap = append(snap, protocol.Entry{ID: id, Position: rec.Position})
	}
	return snap
}

// Lookup 读取单个连接的当前位置（管理接口与测试用）
func (r *Registry) Lookup(id protocol.ClientID) (protocol.Position, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.clients[id]
	if !ok {
		return protocol.Position{}, false
	}
	return rec.Position, true
}

// Remove 删除记录；重复删除是安全的
func (r *Registry) Remove(id protocol.ClientID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[id]; !ok {
		return false
	}
	delete(r.clients, id)
	return true
}

// Len 当前在线连接数
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

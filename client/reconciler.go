package client

import (
	"sort"

	"presencesync/protocol"
)

// RemoteEntity 其他玩家在本地的表示，键为 ClientID
type RemoteEntity struct {
	ID       protocol.ClientID
	Position protocol.Position
}

// EntityHooks 由渲染层实现；Reconciler 只负责在正确的时机调用它们
type EntityHooks interface {
	Create(id protocol.ClientID, pos protocol.Position)
	Update(id protocol.ClientID, pos protocol.Position)
	Destroy(id protocol.ClientID)
}

// Diff 一次 Apply 产生的变更集合
type Diff struct {
	Created   []protocol.ClientID
	Updated   []protocol.ClientID
	Destroyed []protocol.ClientID
}

// MembershipChanged 是否发生了创建或销毁
func (d Diff) MembershipChanged() bool {
	return len(d.Created) > 0 || len(d.Destroyed) > 0
}

// SnapshotSource 非阻塞地提供最新快照，*Conn 实现了该接口
type SnapshotSource interface {
	Latest() (protocol.Snapshot, bool)
}

// Reconciler 将收到的快照与本地实体集合做差异同步
// 非并发安全：必须在渲染驱动的单一协程中调用
type Reconciler struct {
	entities map[protocol.ClientID]*RemoteEntity
	hooks    EntityHooks
}

// NewReconciler hooks 可为 nil
func NewReconciler(hooks EntityHooks) *Reconciler {
	return &Reconciler{
		entities: make(map[protocol.ClientID]*RemoteEntity),
		hooks:    hooks,
	}
}

// Apply 处理一份快照：
// 不在快照中的实体被销毁；已存在的原地更新位置；新出现的被创建。
// 只有成员变化才会触发创建/销毁，位置变化只触发更新。
func (r *Reconciler) Apply(snap protocol.Snapshot) Diff {
	present := make(map[protocol.ClientID]struct{}, len(snap))
	for _, e := range snap {
		present[e.ID] = struct{}{}
	}

	var diff Diff
	for id := range r.entities {
		if _, ok := present[id]; ok {
			continue
		}
		delete(r.entities, id)
		diff.Destroyed = append(diff.Destroyed, id)
	}
	sort.Slice(diff.Destroyed, func(i, j int) bool { return diff.Destroyed[i] < diff.Destroyed[j] })
	for _, id := range diff.Destroyed {
		if r.hooks != nil {
			r.hooks.Destroy(id)
		}
	}

	for _, e := range snap {
		if ent, ok := r.entities[e.ID]; ok {
			ent.Position = e.Position
			diff.Updated = append(diff.Updated, e.ID)
			if r.hooks != nil {
				r.hooks.Update(e.ID, e.Position)
			}
			continue
		}
		r.entities[e.ID] = &RemoteEntity{ID: e.ID, Position: e.Position}
		diff.Created = append(diff.Created, e.ID)
		if r.hooks != nil {
			r.hooks.Create(e.ID, e.Position)
		}
	}
	return diff
}

// Poll 若 src 有新快照则应用之；供每个渲染帧调用
func (r *Reconciler) Poll(src SnapshotSource) (Diff, bool) {
	snap, ok := src.Latest()
	if !ok {
		return Diff{}, false
	}
	return r.Apply(snap), true
}

// Entities 返回当前实体位置的副本，供渲染层读取
func (r *Reconciler) Entities() map[protocol.ClientID]protocol.Position {
	out := make(map[protocol.ClientID]protocol.Position, len(r.entities))
	for id, ent := range r.entities {
		out[id] = ent.Position
	}
	return out
}

func (r *Reconciler) Entity(id protocol.ClientID) (RemoteEntity, bool) {
	ent, ok := r.entities[id]
	if !ok {
		return RemoteEntity{}, false
	}
	return *ent, true
}

func (r *Reconciler) Len() int { return len(r.entities) }

package ws

import (
	"sort"
	"sync"
)

// AllChannels 广播到所有频道
const AllChannels = ""

// Registry 存活连接集合及频道索引
//
// 写操作只来自 ConnectionProcessor（准入与关闭），读操作来自广播。
// 所有索引在同一把锁内更新，读方不会看到半更新状态。
type Registry struct {
	mu        sync.RWMutex
	byID      map[string]*Connection            // connID -> *Connection
	byChannel map[string]map[string]*Connection // channel -> connID -> *Connection
	maxConns  int                               // 0 表示不限制
}

// NewRegistry 创建连接注册表
func NewRegistry(maxConns int) *Registry {
	return &Registry{
		byID:      make(map[string]*Connection),
		byChannel: make(map[string]map[string]*Connection),
		maxConns:  maxConns,
	}
}

// Add 添加连接
func (r *Registry) Add(conn *Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[conn.ID]; exists {
		return ErrClientIDExists
	}
	if r.maxConns > 0 && len(r.byID) >= r.maxConns {
		return ErrTooManyConnections
	}

	r.byID[conn.ID] = conn
	members, ok := r.byChannel[conn.Channel()]
	if !ok {
		members = make(map[string]*Connection)
		r.byChannel[conn.Channel()] = members
	}
	members[conn.ID] = conn
	return nil
}

// Remove 移除连接，返回连接此前是否存在
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.byID[id]
	if !ok {
		return false
	}
	delete(r.byID, id)

	if members, ok := r.byChannel[conn.Channel()]; ok {
		delete(members, id)
		if len(members) == 0 {
			delete(r.byChannel, conn.Channel())
		}
	}
	return true
}

// Get 获取连接
func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.byID[id]
	return conn, ok
}

// Count 获取连接数
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Channels 当前有连接的频道
func (r *Registry) Channels() []string {
	r.mu.RLock()
	channels := make([]string, 0, len(r.byChannel))
	for ch := range r.byChannel {
		channels = append(channels, ch)
	}
	r.mu.RUnlock()
	sort.Strings(channels)
	return channels
}

// Clients 返回频道内拥有全部标签且处于 open 状态的连接
// channel 为 AllChannels 时遍历所有频道
func (r *Registry) Clients(channel string, tags ...string) []*Connection {
	r.mu.RLock()
	var source map[string]*Connection
	if channel == AllChannels {
		source = r.byID
	} else {
		source = r.byChannel[channel]
	}
	candidates := make([]*Connection, 0, len(source))
	for _, conn := range source {
		candidates = append(candidates, conn)
	}
	r.mu.RUnlock()

	clients := candidates[:0]
	for _, conn := range candidates {
		if conn.IsOpen() && conn.HasTags(tags...) {
			clients = append(clients, conn)
		}
	}
	return clients
}

// Range 遍历所有连接（快照）
func (r *Registry) Range(f func(*Connection) bool) {
	r.mu.RLock()
	snapshot := make([]*Connection, 0, len(r.byID))
	for _, conn := range r.byID {
		snapshot = append(snapshot, conn)
	}
	r.mu.RUnlock()

	for _, conn := range snapshot {
		if !f(conn) {
			return
		}
	}
}

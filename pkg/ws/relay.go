package ws

import "context"

// RelayPacket 跨节点广播包
type RelayPacket struct {
	Node    string   `json:"node"`              // 发布节点
	Channel string   `json:"channel"`           // 目标频道，空表示全部
	Tags    []string `json:"tags,omitempty"`    // 标签过滤
	Exclude string   `json:"exclude,omitempty"` // 排除的连接 ID
	Binary  bool     `json:"binary,omitempty"`  // 是否二进制帧
	Data    []byte   `json:"data"`              // 已编码的帧数据
}

// Relay 跨节点广播中继
type Relay interface {
	// Publish 发布广播包
	Publish(ctx context.Context, packet *RelayPacket) error
	// Subscribe 订阅广播包，handler 在中继的协程中调用，ctx 取消后停止
	Subscribe(ctx context.Context, handler func(*RelayPacket)) error
	// Close 关闭中继
	Close() error
}

package ws

import "time"

// Metrics 监控接口
type Metrics interface {
	// 连接指标
	IncrementConnections()
	DecrementConnections()
	SetConnectionCount(count int)
	IncrementRejectedConnections(kind string)
	IncrementDeadConnections()

	// 消息指标
	IncrementMessageCount(channel string)
	RecordMessageLatency(channel string, d time.Duration)
	IncrementMessageErrors(kind string)

	// 出站指标
	IncrementSentMessages()
	IncrementSendErrors()
	RecordBroadcastFanout(recipients int)
}

// NoopMetrics 空实现（默认）
type NoopMetrics struct{}

func (NoopMetrics) IncrementConnections()                      {}
func (NoopMetrics) DecrementConnections()                      {}
func (NoopMetrics) SetConnectionCount(int)                     {}
func (NoopMetrics) IncrementRejectedConnections(string)        {}
func (NoopMetrics) IncrementDeadConnections()                  {}
func (NoopMetrics) IncrementMessageCount(string)               {}
func (NoopMetrics) RecordMessageLatency(string, time.Duration) {}
func (NoopMetrics) IncrementMessageErrors(string)              {}
func (NoopMetrics) IncrementSentMessages()                     {}
func (NoopMetrics) IncrementSendErrors()                       {}
func (NoopMetrics) RecordBroadcastFanout(int)                  {}

package ws

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tokmz/wspipe/pkg/logger"
)

// SendOptions 发送选项
type SendOptions struct {
	Binary bool // 以二进制帧发送
	Raw    bool // 跳过协议编码
}

// OutputProcessor 出站编码与发送
type OutputProcessor struct {
	protocol     Protocol
	serializer   Serializer
	writeTimeout time.Duration
	workers      int
	onSendError  SendErrorHandler
	logger       logger.Logger
	metrics      Metrics
}

// newOutputProcessor 创建出站处理器
func newOutputProcessor(cfg OutputConfig, log logger.Logger, metrics Metrics) *OutputProcessor {
	p := &OutputProcessor{
		protocol:     cfg.Protocol,
		serializer:   cfg.Serializer,
		writeTimeout: cfg.WriteTimeout,
		workers:      cfg.BroadcastWorkers,
		onSendError:  cfg.OnSendError,
		logger:       log,
		metrics:      metrics,
	}
	if p.serializer == nil {
		p.serializer = JSONSerializer{}
	}
	if p.onSendError == nil {
		p.onSendError = p.logSendError
	}
	return p
}

// Process 编码并发送给单个连接
func (p *OutputProcessor) Process(ctx context.Context, v any, conn *Connection, opts SendOptions) error {
	if !conn.IsOpen() {
		return ErrNotOpen
	}
	frame, err := p.Encode(v, opts)
	if err != nil {
		return err
	}
	return p.Write(ctx, conn, frame)
}

// Encode 协议编码并序列化为数据帧
func (p *OutputProcessor) Encode(v any, opts SendOptions) (Frame, error) {
	binary := opts.Binary
	if !opts.Raw && p.protocol != nil {
		wrapped, err := p.protocol.Wrap(v)
		if err != nil {
			return Frame{}, ErrSerialization.WithError(err)
		}
		v = wrapped
		if bp, ok := p.protocol.(binaryProtocol); ok && bp.Binary() {
			binary = true
		}
	}

	var data []byte
	switch x := v.(type) {
	case []byte:
		data = x
	case json.RawMessage:
		data = x
	case string:
		data = []byte(x)
	default:
		encoded, err := p.serializer.Marshal(v)
		if err != nil {
			return Frame{}, ErrSerialization.WithError(err)
		}
		data = encoded
	}

	frame := Frame{Type: TextFrame, Data: data}
	if binary {
		frame.Type = BinaryFrame
	}
	return frame, nil
}

// Write 通过底层 Socket 发送已编码的数据帧，写入完成后返回
func (p *OutputProcessor) Write(ctx context.Context, conn *Connection, frame Frame) error {
	if !conn.IsOpen() {
		return ErrNotOpen
	}

	ctx, cancel := context.WithTimeout(ctx, p.writeTimeout)
	defer cancel()

	if err := conn.socket.Send(ctx, frame); err != nil {
		p.metrics.IncrementSendErrors()
		return err
	}
	p.metrics.IncrementSentMessages()
	return nil
}

// Fanout 并发发送给多个连接，返回成功数
//
// 发送时已不处于 open 状态的连接被跳过；单个失败交给 OnSendError，不汇总。
func (p *OutputProcessor) Fanout(ctx context.Context, frame Frame, targets []*Connection) int {
	if len(targets) == 0 {
		return 0
	}

	var (
		g         errgroup.Group
		delivered = make([]bool, len(targets))
	)
	g.SetLimit(p.workers)

	for i, conn := range targets {
		g.Go(func() error {
			if !conn.IsOpen() {
				return nil
			}
			if err := p.Write(ctx, conn, frame); err != nil {
				p.onSendError(ctx, conn, err)
				return nil
			}
			delivered[i] = true
			return nil
		})
	}
	_ = g.Wait()

	count := 0
	for _, ok := range delivered {
		if ok {
			count++
		}
	}
	p.metrics.RecordBroadcastFanout(count)
	return count
}

// logSendError 默认的发送失败处理
func (p *OutputProcessor) logSendError(ctx context.Context, conn *Connection, err error) {
	p.logger.WarnContext(ctx, "broadcast send failed",
		zap.String("target_id", conn.ID),
		zap.String("target_channel", conn.Channel()),
		zap.Error(err),
	)
}

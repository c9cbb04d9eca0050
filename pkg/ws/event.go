package ws

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType 事件类型
type EventType string

const (
	// EventAny 订阅全部事件
	EventAny EventType = "*"
	// EventConnected 连接进入 TRACKED
	EventConnected EventType = "connection.tracked"
	// EventRejected 连接被拒绝
	EventRejected EventType = "connection.rejected"
	// EventDisconnected 连接关闭
	EventDisconnected EventType = "connection.closed"
	// EventDead 心跳超时
	EventDead EventType = "connection.dead"
	// EventRevived 心跳恢复
	EventRevived EventType = "connection.revived"
	// EventMessageReceived 收到消息
	EventMessageReceived EventType = "message.received"
	// EventMessageFailed 消息处理失败
	EventMessageFailed EventType = "message.failed"
)

// lifecycleWait 生命周期事件入队的最长等待
const lifecycleWait = 100 * time.Millisecond

// lifecycle 连接状态变化类事件，入队时允许短暂阻塞
func (t EventType) lifecycle() bool {
	switch t {
	case EventConnected, EventDisconnected, EventDead, EventRevived:
		return true
	}
	return false
}

// Event 管线事件
type Event struct {
	Type    EventType
	ConnID  string
	Channel string
	Err     error
	Data    any
	Time    time.Time
}

// EventHandler 事件处理器
type EventHandler func(Event)

type subscription struct {
	id      uint64
	handler EventHandler
}

// EventBus 异步事件总线
//
// 每个事件作为一个任务入队，由 worker 依次调用该类型及 EventAny 的订阅者。
type EventBus struct {
	mu     sync.RWMutex
	subs   map[EventType][]subscription
	nextID uint64

	tasks chan Event
	stop  chan struct{}
	wg    sync.WaitGroup

	closed  atomic.Bool
	once    sync.Once
	dropped atomic.Int64
}

// NewEventBus 创建事件总线
func NewEventBus(workers, queueSize int) *EventBus {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	eb := &EventBus{
		subs:  make(map[EventType][]subscription),
		tasks: make(chan Event, queueSize),
		stop:  make(chan struct{}),
	}
	eb.wg.Add(workers)
	for range workers {
		go eb.loop()
	}
	return eb
}

// Subscribe 订阅事件，返回取消订阅函数
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler) (cancel func()) {
	if handler == nil {
		return func() {}
	}
	eb.mu.Lock()
	eb.nextID++
	id := eb.nextID
	eb.subs[eventType] = append(eb.subs[eventType], subscription{id: id, handler: handler})
	eb.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { eb.unsubscribe(eventType, id) })
	}
}

func (eb *EventBus) unsubscribe(eventType EventType, id uint64) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	subs := eb.subs[eventType]
	for i, s := range subs {
		if s.id == id {
			// 旧切片可能正被 dispatch 遍历
			next := make([]subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			eb.subs[eventType] = append(next, subs[i+1:]...)
			return
		}
	}
}

// Publish 发布事件（异步）
//
// 队列满时普通事件直接丢弃，生命周期事件最多等待 lifecycleWait。
func (eb *EventBus) Publish(event Event) {
	if eb == nil || eb.closed.Load() {
		return
	}
	if !eb.hasSubscribers(event.Type) {
		return
	}
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	if !event.Type.lifecycle() {
		select {
		case eb.tasks <- event:
		default:
			eb.dropped.Add(1)
		}
		return
	}

	timer := time.NewTimer(lifecycleWait)
	defer timer.Stop()
	select {
	case eb.tasks <- event:
	case <-eb.stop:
	case <-timer.C:
		eb.dropped.Add(1)
	}
}

func (eb *EventBus) hasSubscribers(t EventType) bool {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subs[t]) > 0 || len(eb.subs[EventAny]) > 0
}

// loop worker 主循环
func (eb *EventBus) loop() {
	defer eb.wg.Done()
	for {
		select {
		case event := <-eb.tasks:
			eb.dispatch(event)
		case <-eb.stop:
			return
		}
	}
}

// dispatch 调用订阅者
func (eb *EventBus) dispatch(event Event) {
	eb.mu.RLock()
	typed := eb.subs[event.Type]
	all := eb.subs[EventAny]
	eb.mu.RUnlock()

	for _, s := range typed {
		call(s.handler, event)
	}
	for _, s := range all {
		call(s.handler, event)
	}
}

// call 调用单个处理器，panic 不影响其余订阅者
func call(handler EventHandler, event Event) {
	defer func() {
		_ = recover()
	}()
	handler(event)
}

// Close 停止 worker（幂等），未处理的事件被丢弃
func (eb *EventBus) Close() {
	eb.once.Do(func() {
		eb.closed.Store(true)
		close(eb.stop)
		eb.wg.Wait()
	})
}

// DroppedEvents 因队列满而丢弃的事件数
func (eb *EventBus) DroppedEvents() int64 {
	return eb.dropped.Load()
}

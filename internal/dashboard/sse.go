// sse.go — SSE 事件总线 + handler。
package dashboard

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mdwoicke/dentix-ortho-sub001/pkg/logger"
)

// Event 推送事件。
type Event struct {
	Type string
	Data any
}

// EventBus SSE 订阅者集合。慢消费者不阻塞发布 (满则丢)。
type EventBus struct {
	buf         int
	mu          sync.RWMutex
	subscribers map[string]chan Event
}

// NewEventBus 创建事件总线。buf 为每订阅者的缓冲深度。
func NewEventBus(buf int) *EventBus {
	return &EventBus{buf: buf, subscribers: make(map[string]chan Event)}
}

// Publish 广播事件。
func (b *EventBus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe 订阅。
func (b *EventBus) Subscribe(id string) chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, b.buf)
	b.subscribers[id] = ch
	return ch
}

// Unsubscribe 取消订阅。
//
// 不关闭 ch — sseHandler 通过 ctx.Done() 退出, GC 回收未引用的 channel。
func (b *EventBus) Unsubscribe(id string) {
	b.mu.Lock()
	delete(b.subscribers, id)
	b.mu.Unlock()
}

// SubscriberCount 当前订阅者数。
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// sseHandler Gin SSE handler。连接时先推一份完整快照,
// 之后只推 state-changed 版本号, 客户端按需回拉 /api/state。
func (s *Server) sseHandler(c *gin.Context) {
	clientID := fmt.Sprintf("sse-%d", time.Now().UnixNano())
	ch := s.bus.Subscribe(clientID)
	defer func() {
		s.bus.Unsubscribe(clientID)
		logger.Info("dashboard: SSE client disconnected", logger.FieldSubscriber, clientID)
	}()

	logger.Info("dashboard: SSE client connected", logger.FieldSubscriber, clientID)
	c.SSEvent("snapshot", s.mgr.Snapshot())
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		// 复用 timer 避免每次循环创建新定时器 (GC 压力)
		keepalive := time.NewTimer(s.opts.PingInterval)
		defer keepalive.Stop()

		for {
			select {
			case evt, ok := <-ch:
				if !ok {
					return false
				}
				c.SSEvent(evt.Type, evt.Data)
				if !keepalive.Stop() {
					select {
					case <-keepalive.C:
					default:
					}
				}
				keepalive.Reset(s.opts.PingInterval)
				return true
			case <-keepalive.C:
				c.SSEvent("ping", "keepalive")
				keepalive.Reset(s.opts.PingInterval)
				return true
			case <-c.Request.Context().Done():
				return false
			}
		}
	})
}

// ws.go — WebSocket 推送 (SSE 的双向替代, 同样只推版本号)。
package dashboard

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mdwoicke/dentix-ortho-sub001/pkg/logger"
	"github.com/mdwoicke/dentix-ortho-sub001/pkg/util"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// 面板与采集进程同机部署, 跨源由 CORSOpen 统一决定
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsMessage 推送帧。
type wsMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// wsClient 单连接: 独立写泵, 慢消费者整体掉线而不是阻塞广播。
type wsClient struct {
	conn *websocket.Conn
	send chan wsMessage
	once sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// WSHub WebSocket 连接集合。
type WSHub struct {
	pingInterval time.Duration
	mu           sync.Mutex
	clients      map[*wsClient]struct{}
}

// NewWSHub 创建 hub。
func NewWSHub(pingInterval time.Duration) *WSHub {
	return &WSHub{
		pingInterval: pingInterval,
		clients:      make(map[*wsClient]struct{}),
	}
}

// Broadcast 向所有连接推送一帧。发送缓冲满的连接被踢下线。
func (h *WSHub) Broadcast(msgType string, data any) {
	msg := wsMessage{Type: msgType, Data: data}
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
			delete(h.clients, client)
			client.close()
		}
	}
}

// ClientCount 当前连接数。
func (h *WSHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// CloseAll 关闭全部连接 (服务停机)。
func (h *WSHub) CloseAll() {
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}

func (h *WSHub) remove(client *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()
	if ok {
		client.close()
	}
}

// wsHandler 升级连接并挂到 hub。入站帧忽略 (推送单向)。
func (s *Server) wsHandler(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("dashboard: websocket upgrade failed", logger.FieldError, err.Error())
		return
	}
	client := &wsClient{conn: conn, send: make(chan wsMessage, s.opts.PushBuffer)}
	s.hub.mu.Lock()
	s.hub.clients[client] = struct{}{}
	s.hub.mu.Unlock()

	// 连接即推完整快照, 之后增量版本号
	client.send <- wsMessage{Type: "snapshot", Data: s.mgr.Snapshot()}

	util.SafeGo(func() { s.writePump(client) })
	util.SafeGo(func() { s.readPump(client) })
}

// writePump 串行写出 + 周期 ping。send 关闭或写失败即退出。
func (s *Server) writePump(client *wsClient) {
	ticker := time.NewTicker(s.hub.pingInterval)
	defer func() {
		ticker.Stop()
		_ = client.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.send:
			if !ok {
				_ = client.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteTimeout))
				return
			}
			_ = client.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := client.conn.WriteJSON(msg); err != nil {
				s.hub.remove(client)
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.hub.remove(client)
				return
			}
		}
	}
}

// readPump 消费入站帧以驱动关闭/pong 处理。
func (s *Server) readPump(client *wsClient) {
	defer s.hub.remove(client)
	client.conn.SetReadLimit(1024)
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

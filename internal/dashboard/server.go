// Package dashboard 监控面板 HTTP 服务。
//
// 对外暴露对账后的状态: REST 快照 + SSE / WebSocket 增量推送。
// 所有读取走 runstate 的深拷贝视图, handler 内不持有任何可变状态。
package dashboard

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mdwoicke/dentix-ortho-sub001/internal/runstate"
	"github.com/mdwoicke/dentix-ortho-sub001/internal/store"
	"github.com/mdwoicke/dentix-ortho-sub001/pkg/logger"
)

// Selector 选中态切换入口 (监督器实现)。
type Selector interface {
	SelectRun(ctx context.Context, runID string) error
	SelectTest(ctx context.Context, testID string) error
}

// ArchiveReader 归档离线查询入口 (store.Archive 实现)。
// nil 表示归档关闭, 对应路由返回 404。
type ArchiveReader interface {
	GetRun(ctx context.Context, runID string) (*store.WatchedRun, error)
	ListRuns(ctx context.Context, status, keyword string, limit int) ([]store.WatchedRun, error)
	ListConversations(ctx context.Context, runID string, limit int) ([]store.WatchedConversation, error)
}

// Options 服务配置。
type Options struct {
	Listen       string
	PushBuffer   int
	PingInterval time.Duration
	CORSOpen     bool
	Archive      ArchiveReader // 可为 nil
}

// Server 监控面板服务。
type Server struct {
	router   *gin.Engine
	mgr      *runstate.Manager
	selector Selector
	archive  ArchiveReader
	bus      *EventBus
	hub      *WSHub
	opts     Options
}

// NewServer 创建服务并注册路由。
func NewServer(mgr *runstate.Manager, selector Selector, opts Options) *Server {
	if opts.PushBuffer <= 0 {
		opts.PushBuffer = 32
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		router:   r,
		mgr:      mgr,
		selector: selector,
		archive:  opts.Archive,
		bus:      NewEventBus(opts.PushBuffer),
		hub:      NewWSHub(opts.PingInterval),
		opts:     opts,
	}
	if opts.CORSOpen {
		r.Use(corsMiddleware())
	}
	s.registerRoutes()
	return s
}

// Engine 返回 gin 引擎 (测试用)。
func (s *Server) Engine() *gin.Engine { return s.router }

// Bus 返回 SSE 事件总线。
func (s *Server) Bus() *EventBus { return s.bus }

// Hub 返回 WebSocket 推送 hub。
func (s *Server) Hub() *WSHub { return s.hub }

// NotifyStateChanged 状态版本桥接: Manager.onChange → 两路推送。
func (s *Server) NotifyStateChanged(version uint64) {
	payload := gin.H{"stateVersion": version}
	s.bus.Publish(Event{Type: "state-changed", Data: payload})
	s.hub.Broadcast("state-changed", payload)
}

// Run 阻塞启动 HTTP 服务, ctx 取消时优雅关闭。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.opts.Listen, Handler: s.router}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("dashboard listening", logger.FieldAddr, s.opts.Listen)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.hub.CloseAll()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

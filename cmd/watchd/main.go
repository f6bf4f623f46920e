// cmd/watchd — 执行状态对账守护进程主入口。
//
// 启动顺序: 配置 → 日志 → (可选) 归档库 → 后端客户端 → 状态管理器
// → 监督器 → 轮询器 → dashboard。SIGINT/SIGTERM 优雅退出。
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/mdwoicke/dentix-ortho-sub001/internal/backend"
	"github.com/mdwoicke/dentix-ortho-sub001/internal/config"
	"github.com/mdwoicke/dentix-ortho-sub001/internal/dashboard"
	"github.com/mdwoicke/dentix-ortho-sub001/internal/database"
	"github.com/mdwoicke/dentix-ortho-sub001/internal/poller"
	"github.com/mdwoicke/dentix-ortho-sub001/internal/runstate"
	"github.com/mdwoicke/dentix-ortho-sub001/internal/store"
	"github.com/mdwoicke/dentix-ortho-sub001/internal/stream"
	"github.com/mdwoicke/dentix-ortho-sub001/internal/watch"
	"github.com/mdwoicke/dentix-ortho-sub001/pkg/logger"
	"github.com/mdwoicke/dentix-ortho-sub001/pkg/util"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := config.Load()
	logger.Init(cfg.AppEnv)
	logger.SetLevel(cfg.LogLevel)
	if cfg.LogDir != "" {
		if err := logger.InitWithFile(cfg.LogDir); err != nil {
			logger.Fatal("log file init failed", logger.FieldError, err.Error())
		}
		defer logger.ShutdownFileHandler()
	}

	// 归档可选: 连接串为空时直接跳过
	var archive watch.Archiver
	var archiveReader dashboard.ArchiveReader
	if cfg.PostgresConnStr != "" {
		pool, err := database.NewPool(ctx, cfg)
		if err != nil {
			logger.Fatal("database init failed", logger.FieldError, err.Error())
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool, "./migrations"); err != nil {
			logger.Fatal("migration failed", logger.FieldError, err.Error())
		}
		a := store.NewArchive(pool)
		archive = a
		archiveReader = a
	} else {
		logger.Info("archive disabled (no POSTGRES_CONNECTION_STRING)")
	}

	mgr := runstate.NewManager()
	client := backend.NewClient(cfg.BackendBaseURL, time.Duration(cfg.BackendTimeoutSec)*time.Second)
	streams := stream.NewManager(cfg.BackendBaseURL,
		time.Duration(cfg.StreamDialTimeoutS)*time.Second,
		time.Duration(cfg.StreamReadIdleSec)*time.Second)
	pol := poller.New(client, mgr,
		time.Duration(cfg.PollActiveSec)*time.Second,
		time.Duration(cfg.PollIdleSec)*time.Second)
	// 流订阅挂在进程级 ctx 上 — 选择请求结束后订阅继续存活
	sup := watch.New(ctx, mgr, streams, client, pol, archive)
	defer sup.Close()

	srv := dashboard.NewServer(mgr, sup, dashboard.Options{
		Listen:       cfg.DashboardListen,
		PushBuffer:   cfg.DashboardPushBuf,
		PingInterval: time.Duration(cfg.DashboardPingSec) * time.Second,
		CORSOpen:     cfg.DashboardCORSOpen,
		Archive:      archiveReader,
	})
	mgr.SetOnChange(srv.NotifyStateChanged)

	util.SafeGo(func() { pol.Run(ctx) })
	util.SafeGo(func() {
		if err := srv.Run(ctx); err != nil {
			logger.Error("dashboard stopped", logger.FieldError, err.Error())
			cancel()
		}
	})

	logger.Infow("watchd started",
		logger.FieldURL, cfg.BackendBaseURL,
		logger.FieldAddr, cfg.DashboardListen)

	<-ctx.Done()
	logger.Info("shutting down")
}

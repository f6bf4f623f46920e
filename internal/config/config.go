// Package config 全局配置加载与管理。
//
// 所有字段通过 struct tag 声明环境变量映射:
//
//	`env:"VAR_NAME" default:"value" min:"0"`
//
// Load() 使用反射自动填充，无需手动逐行赋值。
package config

import (
	"github.com/mdwoicke/dentix-ortho-sub001/pkg/util"
)

// Config 应用全局配置，字段名与 .env 变量一一对应。
type Config struct {
	// 测试执行后端 (REST + SSE)
	BackendBaseURL     string `env:"BACKEND_BASE_URL" default:"http://127.0.0.1:3100"`
	BackendTimeoutSec  int    `env:"BACKEND_TIMEOUT_SEC" default:"15" min:"1"`
	StreamDialTimeoutS int    `env:"STREAM_DIAL_TIMEOUT_SEC" default:"10" min:"1"`
	StreamReadIdleSec  int    `env:"STREAM_READ_IDLE_SEC" default:"90" min:"10"`

	// 快照轮询节奏: 有运行中 run 时用 Active, 否则 Idle
	PollActiveSec int `env:"POLL_ACTIVE_SEC" default:"3" min:"1"`
	PollIdleSec   int `env:"POLL_IDLE_SEC" default:"30" min:"5"`

	// Dashboard
	DashboardListen   string `env:"DASHBOARD_LISTEN" default:":8090"`
	DashboardPushBuf  int    `env:"DASHBOARD_PUSH_BUF" default:"32" min:"1"`
	DashboardPingSec  int    `env:"DASHBOARD_PING_SEC" default:"30" min:"5"`
	DashboardCORSOpen bool   `env:"DASHBOARD_CORS_OPEN" default:"true"`

	// PostgreSQL (归档, 可选 — 为空则禁用归档)
	PostgresConnStr        string `env:"POSTGRES_CONNECTION_STRING"`
	PostgresSchema         string `env:"POSTGRES_SCHEMA" default:"public"`
	PostgresPoolMinSize    int    `env:"POSTGRES_POOL_MIN_SIZE" default:"1" min:"1"`
	PostgresPoolMaxSize    int    `env:"POSTGRES_POOL_MAX_SIZE" default:"10" min:"1"`
	PostgresPoolTimeoutSec int    `env:"POSTGRES_POOL_TIMEOUT_SEC" default:"10" min:"1"`

	// 日志
	LogLevel string `env:"LOG_LEVEL" default:"INFO"`
	LogDir   string `env:"LOG_DIR"`
	AppEnv   string `env:"APP_ENV" default:"production"`
}

// Load 从环境变量加载配置 (通过反射读取 struct tag)。
func Load() *Config {
	var cfg Config
	util.LoadFromEnv(&cfg)
	return &cfg
}

package stream

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	pkgerr "github.com/mdwoicke/dentix-ortho-sub001/pkg/errors"
	"github.com/mdwoicke/dentix-ortho-sub001/pkg/logger"
	"github.com/mdwoicke/dentix-ortho-sub001/pkg/util"
)

// Handler 收到归一化事件时回调 (订阅 goroutine 上调用)。
type Handler func(ev Event)

// ErrorHandler 传输层错误回调。仅上报, 不自动重连。
type ErrorHandler func(err error)

// Subscription 一条活跃的 SSE 订阅句柄。
//
// Close 后该句柄的读 goroutine 不再投递任何事件 — 投递路径在
// closed 标志上把关, 保证旧订阅残留的 goroutine 不会与重连后的
// 新订阅交错写入。
type Subscription struct {
	kind   ChannelKind
	target string
	cancel context.CancelFunc
	closed atomic.Bool
	done   chan struct{}
}

// Kind 返回通道类别。
func (s *Subscription) Kind() ChannelKind { return s.kind }

// Target 返回订阅目标 (runId)。
func (s *Subscription) Target() string { return s.target }

// Closed 报告句柄是否已关闭。
func (s *Subscription) Closed() bool { return s.closed.Load() }

// Close 关闭订阅。幂等; 返回后不再有事件投递 (已在途的回调除外,
// 投递前会再次检查 closed)。
func (s *Subscription) Close() {
	if s.closed.CompareAndSwap(false, true) {
		s.cancel()
	}
}

// Manager 管理到后端的 SSE 订阅。
//
// 每个通道类别 (run / execution) 同一时刻至多一条活跃订阅:
// Subscribe 前会先关闭同类旧订阅, 避免双流交错。
type Manager struct {
	baseURL  string
	client   *http.Client
	readIdle time.Duration

	mu     sync.Mutex
	active map[ChannelKind]*Subscription
}

// NewManager 创建订阅管理器。
// dialTimeout 限制建连与响应头等待; readIdle 是无任何帧 (含 keepalive
// 注释) 到达时判定断流的空闲上限, 0 表示不设上限。
func NewManager(baseURL string, dialTimeout, readIdle time.Duration) *Manager {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   dialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ResponseHeaderTimeout: dialTimeout,
	}
	return &Manager{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Transport: transport},
		readIdle: readIdle,
		active:   make(map[ChannelKind]*Subscription),
	}
}

// SubscribeRun 订阅 run 范围通道 (选中 run + 可选 test 过滤)。
// 同类旧订阅先被关闭。
func (m *Manager) SubscribeRun(ctx context.Context, runID, testID string, onEvent Handler, onError ErrorHandler) (*Subscription, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, pkgerr.New("Stream.SubscribeRun", "empty runId")
	}
	endpoint := fmt.Sprintf("%s/api/stream/runs/%s", m.baseURL, url.PathEscape(runID))
	if testID = strings.TrimSpace(testID); testID != "" {
		endpoint += "?testId=" + url.QueryEscape(testID)
	}
	return m.subscribe(ctx, ChannelRun, runID, endpoint, NormalizeRunEvent, onEvent, onError)
}

// SubscribeExecution 订阅 execution 范围通道 (执行中的 run)。
func (m *Manager) SubscribeExecution(ctx context.Context, runID string, onEvent Handler, onError ErrorHandler) (*Subscription, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, pkgerr.New("Stream.SubscribeExecution", "empty runId")
	}
	endpoint := fmt.Sprintf("%s/api/stream/executions/%s", m.baseURL, url.PathEscape(runID))
	return m.subscribe(ctx, ChannelExecution, runID, endpoint, NormalizeExecutionEvent, onEvent, onError)
}

// CloseChannel 关闭指定类别的活跃订阅 (若有)。
func (m *Manager) CloseChannel(kind ChannelKind) {
	m.mu.Lock()
	sub := m.active[kind]
	delete(m.active, kind)
	m.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
}

// CloseAll 关闭全部活跃订阅。
func (m *Manager) CloseAll() {
	m.mu.Lock()
	subs := make([]*Subscription, 0, len(m.active))
	for _, s := range m.active {
		subs = append(subs, s)
	}
	m.active = make(map[ChannelKind]*Subscription)
	m.mu.Unlock()
	for _, s := range subs {
		s.Close()
	}
}

type normalizeFunc func(name string, data []byte) (Event, bool)

// subscribe 建立连接 (同步, 失败直接返回错误) 并启动读循环。
func (m *Manager) subscribe(ctx context.Context, kind ChannelKind, target, endpoint string, normalize normalizeFunc, onEvent Handler, onError ErrorHandler) (*Subscription, error) {
	op := fmt.Sprintf("Stream.Subscribe[%s]", kind)

	// 同类旧订阅先退场再拨号 — 整个拨号窗口内同类通道都不存在双流。
	// 摘表在关闭之前, 拨号失败也不会留下幽灵条目。
	m.mu.Lock()
	prev := m.active[kind]
	delete(m.active, kind)
	m.mu.Unlock()
	if prev != nil {
		prev.Close()
	}

	streamCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		cancel()
		return nil, pkgerr.Wrap(err, op, "build request")
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := m.client.Do(req)
	if err != nil {
		cancel()
		return nil, pkgerr.Wrapf(pkgerr.ErrUnavailable, op, "dial %s: %v", endpoint, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, pkgerr.Newf(op, "unexpected status %d from %s", resp.StatusCode, endpoint)
	}

	sub := &Subscription{
		kind:   kind,
		target: target,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	m.active[kind] = sub
	m.mu.Unlock()

	logger.Info("stream subscribed",
		logger.FieldChannel, string(kind),
		logger.FieldTarget, target,
		logger.FieldURL, endpoint)

	util.SafeGo(func() {
		defer close(sub.done)
		defer resp.Body.Close()
		var body io.Reader = resp.Body
		if m.readIdle > 0 {
			// 空闲看门狗: readIdle 内没有任何字节到达就掐断连接
			timer := time.AfterFunc(m.readIdle, cancel)
			defer timer.Stop()
			body = &idleResetReader{r: resp.Body, timer: timer, idle: m.readIdle}
		}
		m.readLoop(sub, body, normalize, onEvent, onError)
	})
	return sub, nil
}

// idleResetReader 每次成功读取都重置空闲定时器。
type idleResetReader struct {
	r     io.Reader
	timer *time.Timer
	idle  time.Duration
}

func (w *idleResetReader) Read(p []byte) (int, error) {
	n, err := w.r.Read(p)
	if n > 0 {
		w.timer.Reset(w.idle)
	}
	return n, err
}

// readLoop 读取 SSE 帧直到流断开或订阅关闭。
// 每帧投递前检查 closed — 关闭后的句柄绝不再投递。
func (m *Manager) readLoop(sub *Subscription, body io.Reader, normalize normalizeFunc, onEvent Handler, onError ErrorHandler) {
	err := readFrames(body, func(name string, data []byte) {
		if sub.closed.Load() {
			return
		}
		ev, ok := normalize(name, data)
		if !ok {
			logger.Warn("unknown stream event dropped",
				logger.FieldChannel, string(sub.kind),
				logger.FieldEventType, name,
				logger.FieldTarget, sub.target)
			return
		}
		onEvent(ev)
	})

	m.mu.Lock()
	if m.active[sub.kind] == sub {
		delete(m.active, sub.kind)
	}
	m.mu.Unlock()

	if sub.closed.Load() {
		// 主动关闭 — context 取消引发的读错误不是故障
		return
	}
	sub.closed.Store(true)
	sub.cancel()

	if err == nil {
		err = pkgerr.Wrap(pkgerr.ErrStreamClosed, "Stream.ReadLoop", "server closed stream")
	} else {
		err = pkgerr.Wrap(err, "Stream.ReadLoop", "stream read failed")
	}
	logger.Warn("stream disconnected",
		logger.FieldChannel, string(sub.kind),
		logger.FieldTarget, sub.target,
		logger.FieldError, err.Error())
	if onError != nil {
		onError(err)
	}
}

// Package stream 事件通道适配器: 连接后端 SSE 流并把原始事件
// 归一化为封闭的类型化事件集。
//
// 两类逻辑通道:
//   - run 范围:       选中 run(+test) 的结果/发现/转录更新
//   - execution 范围: 执行中 run 的 worker / 会话 / 生命周期事件
//
// 每类通道同一时刻至多一条活跃订阅; 未知事件名记日志后丢弃,
// 绝不做 best-effort 字段访问。传输错误通过回调上报为状态标志,
// 重连由调用方发起 (适配器内部不自动重试, 避免隐藏的重复处理)。
package stream

import (
	"encoding/json"

	"github.com/mdwoicke/dentix-ortho-sub001/internal/runstate"
)

// ChannelKind 逻辑通道类别。
type ChannelKind string

const (
	// ChannelRun run 范围通道 (选中 run + 可选 test)。
	ChannelRun ChannelKind = "run"
	// ChannelExecution execution 范围通道 (执行中的 run)。
	ChannelExecution ChannelKind = "execution"
)

// run 范围事件名 (封闭集)。
const (
	EventRunUpdate        = "run-update"
	EventResultsUpdate    = "results-update"
	EventFindingsUpdate   = "findings-update"
	EventTranscriptUpdate = "transcript-update"
	EventAPICallsUpdate   = "api-calls-update"
	EventComplete         = "complete"
	EventError            = "error"
)

// execution 范围事件名 (封闭集)。
const (
	EventWorkersUpdate      = "workers-update"
	EventWorkerStatus       = "worker-status"
	EventConversationUpdate = "conversation-update"
	EventAPICallUpdate      = "api-call-update"
	EventExecutionCompleted = "execution-completed"
	EventExecutionStopped   = "execution-stopped"
)

// Event 归一化后的流事件信封。
type Event struct {
	Channel ChannelKind     `json:"channel"`
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// runEventNames run 通道合法事件名。
var runEventNames = map[string]struct{}{
	EventRunUpdate:        {},
	EventResultsUpdate:    {},
	EventFindingsUpdate:   {},
	EventTranscriptUpdate: {},
	EventAPICallsUpdate:   {},
	EventComplete:         {},
	EventError:            {},
}

// execEventNames execution 通道合法事件名。
var execEventNames = map[string]struct{}{
	EventWorkersUpdate:      {},
	EventWorkerStatus:       {},
	EventConversationUpdate: {},
	EventAPICallUpdate:      {},
	EventExecutionCompleted: {},
	EventExecutionStopped:   {},
}

// NormalizeRunEvent 归一化 run 通道原始事件。未知事件名返回 ok=false。
func NormalizeRunEvent(name string, data []byte) (Event, bool) {
	if _, ok := runEventNames[name]; !ok {
		return Event{}, false
	}
	return Event{Channel: ChannelRun, Type: name, Data: json.RawMessage(data)}, true
}

// NormalizeExecutionEvent 归一化 execution 通道原始事件。
func NormalizeExecutionEvent(name string, data []byte) (Event, bool) {
	if _, ok := execEventNames[name]; !ok {
		return Event{}, false
	}
	return Event{Channel: ChannelExecution, Type: name, Data: json.RawMessage(data)}, true
}

// ========================================
// 事件载荷 (每通道封闭 tagged-union 的 data 部分)
// ========================================

// WorkerStatusPayload worker-status 事件: 单个 worker 的当前测试。
type WorkerStatusPayload struct {
	TestID        string `json:"testId"`
	TestName      string `json:"testName"`
	CurrentTestID string `json:"currentTestId,omitempty"`
	RunID         string `json:"runId,omitempty"`
	Status        string `json:"status,omitempty"`
}

// WorkersUpdatePayload workers-update 事件: 初始 worker 快照。
type WorkersUpdatePayload struct {
	RunID   string                `json:"runId,omitempty"`
	Workers []WorkerStatusPayload `json:"workers"`
}

// ConversationUpdatePayload conversation-update 事件: 新增一轮发言。
type ConversationUpdatePayload struct {
	TestID string        `json:"testId"`
	RunID  string        `json:"runId,omitempty"`
	Turn   runstate.Turn `json:"turn"`
}

// APICallUpdatePayload api-call-update 事件: 新增一次外部调用。
type APICallUpdatePayload struct {
	TestID string           `json:"testId"`
	RunID  string           `json:"runId,omitempty"`
	Call   runstate.APICall `json:"call"`
}

// TranscriptUpdatePayload transcript-update 事件: 选中测试的持久化转录快照。
type TranscriptUpdatePayload struct {
	TestID     string          `json:"testId"`
	Transcript []runstate.Turn `json:"transcript"`
}

// APICallsUpdatePayload api-calls-update 事件: 持久化 API 调用快照。
type APICallsUpdatePayload struct {
	TestID   string             `json:"testId"`
	APICalls []runstate.APICall `json:"apiCalls"`
}

// ResultsUpdatePayload results-update 事件: run 的结果集快照。
type ResultsUpdatePayload struct {
	RunID   string                `json:"runId"`
	Results []runstate.TestResult `json:"results"`
}

// ExecutionEndedPayload execution-completed / execution-stopped 事件。
type ExecutionEndedPayload struct {
	RunID  string `json:"runId"`
	Reason string `json:"reason,omitempty"`
}

// ErrorPayload error 事件。
type ErrorPayload struct {
	Message string `json:"message"`
}

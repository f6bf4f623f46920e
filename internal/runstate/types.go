// Package runstate 维护测试执行的实时对账状态。
//
// 三块可变共享状态:
//   - RunningRegistry: 流事件证明"正在执行"但持久化结果尚未出现的测试
//   - ConversationStore: 每个测试的实时会话转录 + 外部 API 调用
//   - Manager: run 缓存 + 选中态 + 派生视图 (对账引擎的入口)
//
// 所有写入都是 reducer 式 (旧状态 + 事件 → 新状态), 单逻辑写者,
// 跨通道事件可交错到达, 因此合并操作必须幂等/可交换。
package runstate

import "time"

// Run / 结果状态常量。
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusPassed    = "passed"
	StatusError     = "error"
)

// SyntheticIDPrefix 合成结果行的哨兵 ID 前缀。
// 持久化行一旦出现, 同 testId 的合成行立即让位。
const SyntheticIDPrefix = "running-"

// TestRun 一次批量执行 (服务端权威, 客户端按 runId 缓存)。
type TestRun struct {
	RunID      string       `json:"runId"`
	Status     string       `json:"status"` // pending | running | completed | failed
	TotalTests int          `json:"totalTests"`
	Passed     int          `json:"passed"`
	Failed     int          `json:"failed"`
	Results    []TestResult `json:"results"`
	StartedAt  time.Time    `json:"startedAt"`
}

// TestResult 单个测试场景的执行结果。
//
// 两种来源: persisted (REST 返回, 权威) 与 synthetic (客户端为
// 已知运行中但尚无持久化行的测试构造, Synthetic=true + 哨兵 ID)。
type TestResult struct {
	ID           string     `json:"id,omitempty"`
	TestID       string     `json:"testId"`
	RunID        string     `json:"runId"`
	TestName     string     `json:"testName"`
	Category     string     `json:"category,omitempty"`
	Status       string     `json:"status"`
	StartedAt    time.Time  `json:"startedAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	DurationMS   int64      `json:"durationMs,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	Synthetic    bool       `json:"synthetic,omitempty"`
}

// Turn 会话转录中的一轮发言。
type Turn struct {
	Role      string    `json:"role"` // "tester" | "agent"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// APICall 测试过程中对排期集成发出的一次外部调用。
type APICall struct {
	Name       string    `json:"name,omitempty"`
	Method     string    `json:"method,omitempty"`
	Endpoint   string    `json:"endpoint,omitempty"`
	StatusCode int       `json:"statusCode,omitempty"`
	DurationMS int64     `json:"durationMs,omitempty"`
	Timestamp  time.Time `json:"timestamp,omitempty"`
}

// RunningTestEntry 注册表条目: 流事件证明正在执行的测试。
//
// 条目只对创建时的 runId 有效 — 陈旧 runId 的条目不得对着
// 其他 run 展示 (消费方必须同时校验存在性和 runId 匹配)。
type RunningTestEntry struct {
	TestID    string    `json:"testId"`
	TestName  string    `json:"testName"`
	RunID     string    `json:"runId"`
	StartedAt time.Time `json:"startedAt"`
}

// ConversationEntry 单个测试的实时会话状态。
//
// IsLive 恰好发生一次 true→false 转换 (execution 结束时);
// 数据在转换后保留, 操作员仍可回看。
type ConversationEntry struct {
	TestID     string    `json:"testId"`
	Transcript []Turn    `json:"transcript"`
	APICalls   []APICall `json:"apiCalls"`
	IsLive     bool      `json:"isLive"`
	IsComplete bool      `json:"isComplete"`
}

// HasContent 返回条目是否有任何已到达的数据。
func (e *ConversationEntry) HasContent() bool {
	if e == nil {
		return false
	}
	return len(e.Transcript) > 0 || len(e.APICalls) > 0
}

// View 派生视图 (SelectedViewState) — 纯函数输出, 从不持久化。
type View struct {
	RunID             string       `json:"runId"`
	TestID            string       `json:"testId"`
	DisplayTranscript []Turn       `json:"displayTranscript"`
	DisplayAPICalls   []APICall    `json:"displayApiCalls"`
	IsViewingLive     bool         `json:"isViewingLive"`
	TestRunning       bool         `json:"testRunning"`
	MergedResults     []TestResult `json:"mergedResults"`
	RunningTestCount  int          `json:"runningTestCount"`
	StreamConnected   bool         `json:"streamConnected"`
	LastStreamError   string       `json:"lastStreamError,omitempty"`
	StateVersion      uint64       `json:"stateVersion"`
}

// StateSnapshot dashboard 一次性拉取的完整状态。
type StateSnapshot struct {
	Runs         []TestRun          `json:"runs"`
	SelectedRun  *TestRun           `json:"selectedRun,omitempty"`
	View         View               `json:"view"`
	RunningTests []RunningTestEntry `json:"runningTests"`
}

// Source 标记 run 数据的到达途径, 决定合并时的优先级。
type Source string

const (
	// SourceStream 流事件携带的 run 更新 (主来源)。
	SourceStream Source = "stream"
	// SourcePoll 定时轮询快照 (仅咨询性, 不得回退更新的流状态)。
	SourcePoll Source = "poll"
	// SourceForced execution 结束后的强制重取 (权威, 无条件应用)。
	SourceForced Source = "forced"
)

// manager.go — 对账引擎入口: run 缓存 + 选中态 + reducer + 派生视图。
package runstate

import (
	"strings"
	"sync"

	"github.com/mdwoicke/dentix-ortho-sub001/pkg/logger"
)

// Manager 持有对账所需的全部可变状态。
//
// 事件通道适配器和轮询器通过 Apply* reducer 写入; dashboard 通过
// View()/Snapshot() 读取深拷贝派生视图。写入全部在 Manager 锁内完成,
// 变更后在锁外回调 onChange (桥接到 dashboard 推送)。
type Manager struct {
	registry *RunningRegistry
	conv     *ConversationStore

	mu              sync.RWMutex
	runList         []TestRun
	runsByID        map[string]*TestRun
	selectedRunID   string
	selectedTestID  string
	persistedTurns  map[string][]Turn    // 选中 run 范围内的持久化转录缓存
	persistedCalls  map[string][]APICall // 同上, API 调用
	streamConnected bool
	lastStreamError string
	version         uint64
	onChange        func(version uint64)
}

// NewManager 创建空状态管理器。
func NewManager() *Manager {
	return &Manager{
		registry:       NewRunningRegistry(),
		conv:           NewConversationStore(),
		runList:        []TestRun{},
		runsByID:       map[string]*TestRun{},
		persistedTurns: map[string][]Turn{},
		persistedCalls: map[string][]APICall{},
	}
}

// Registry 暴露运行中测试注册表 (测试/监督器使用)。
func (m *Manager) Registry() *RunningRegistry { return m.registry }

// Conversations 暴露实时会话存储。
func (m *Manager) Conversations() *ConversationStore { return m.conv }

// SetOnChange 设置状态变更回调 (桥接 dashboard 推送)。回调在锁外执行。
func (m *Manager) SetOnChange(fn func(version uint64)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// bump 递增版本号并返回待执行回调。调用方必须持有写锁,
// 并在释放锁之后执行返回的闭包。
func (m *Manager) bumpLocked() func() {
	m.version++
	v := m.version
	fn := m.onChange
	if fn == nil {
		return func() {}
	}
	return func() { fn(v) }
}

// notify 锁外派发一次已递增的变更。
func (m *Manager) notify() {
	m.mu.Lock()
	cb := m.bumpLocked()
	m.mu.Unlock()
	cb()
}

// ========================================
// Run 缓存 reducer
// ========================================

// ApplyRunUpdate 应用一份 run 快照。
//
// 智能合并而非盲目覆盖: poll 来源的数据若比缓存陈旧
// (新鲜度标记 = 结果数 → 完结数 → 聚合计数), 直接丢弃,
// 防止陈旧轮询响应回退更新的流状态。stream/forced 无条件应用。
func (m *Manager) ApplyRunUpdate(run TestRun, src Source) {
	rid := strings.TrimSpace(run.RunID)
	if rid == "" {
		return
	}
	run.RunID = rid

	m.mu.Lock()
	if src == SourcePoll {
		if cached, ok := m.runsByID[rid]; ok && runFresherThan(cached, &run) {
			m.mu.Unlock()
			logger.Debug("runstate: stale poll snapshot dropped",
				logger.FieldRunID, rid,
				logger.FieldCount, len(run.Results),
			)
			return
		}
	}
	m.runsByID[rid] = cloneRun(&run)
	for i := range m.runList {
		if m.runList[i].RunID == rid {
			m.runList[i] = *cloneRun(&run)
			break
		}
	}
	m.reapSuperseded(rid, run.Results)
	cb := m.bumpLocked()
	m.mu.Unlock()
	cb()
}

// reapSuperseded 持久化终态行到达后单独移除对应注册表条目
// (整表清空只绑定 execution 结束)。仍在 running/pending 的行不动,
// 其他 run 下的条目不动。
func (m *Manager) reapSuperseded(runID string, results []TestResult) {
	for i := range results {
		r := &results[i]
		if r.Status == StatusRunning || r.Status == StatusPending {
			continue
		}
		if m.registry.IsRunningUnder(r.TestID, runID) {
			m.registry.Remove(r.TestID)
		}
	}
}

// ApplyResultsUpdate 应用 results-update 事件: 只携带结果集的增量快照。
func (m *Manager) ApplyResultsUpdate(runID string, results []TestResult, src Source) {
	rid := strings.TrimSpace(runID)
	if rid == "" {
		return
	}

	m.mu.Lock()
	cached, ok := m.runsByID[rid]
	if !ok {
		// run 详情还没到: 先建骨架, 后续 run-update 补全
		cached = &TestRun{RunID: rid, Status: StatusRunning}
		m.runsByID[rid] = cached
	}
	incoming := TestRun{RunID: rid, Results: results}
	if src == SourcePoll && runFresherThan(cached, &incoming) {
		m.mu.Unlock()
		return
	}
	cached.Results = cloneResults(results)
	m.reapSuperseded(rid, results)
	cb := m.bumpLocked()
	m.mu.Unlock()
	cb()
}

// ApplyRunList 应用 run 列表快照, 对已缓存详情做同样的陈旧性保护。
func (m *Manager) ApplyRunList(runs []TestRun, src Source) {
	m.mu.Lock()
	next := make([]TestRun, 0, len(runs))
	for i := range runs {
		rid := strings.TrimSpace(runs[i].RunID)
		if rid == "" {
			continue
		}
		item := *cloneRun(&runs[i])
		item.RunID = rid
		if cached, ok := m.runsByID[rid]; ok && src == SourcePoll && runFresherThan(cached, &item) {
			// 列表项比缓存详情陈旧: 保留缓存结果, 只接受列表项的聚合字段
			item.Results = cloneResults(cached.Results)
		} else {
			m.runsByID[rid] = cloneRun(&item)
		}
		next = append(next, item)
	}
	m.runList = next
	cb := m.bumpLocked()
	m.mu.Unlock()
	cb()
}

// ========================================
// 流事件 reducer (execution 范围)
// ========================================

// AddRunningTest 任何证明测试在执行的流信号都会调用 (幂等)。
func (m *Manager) AddRunningTest(testID, testName, runID string) {
	m.registry.Add(testID, testName, runID)
	m.notify()
}

// AppendTurn 追加实时会话轮次; 同时把发起方测试登记为运行中。
func (m *Manager) AppendTurn(testID string, turn Turn, runID string) {
	m.conv.AppendTurn(testID, turn)
	// 会话轮次本身就是"正在执行"的证明
	m.registry.Add(testID, "", runID)
	m.notify()
}

// AppendAPICall 追加实时 API 调用。
func (m *Manager) AppendAPICall(testID string, call APICall, runID string) {
	m.conv.AppendAPICall(testID, call)
	m.registry.Add(testID, "", runID)
	m.notify()
}

// InitializeConversation 用补拉数据初始化实时会话 (catch-up)。
func (m *Manager) InitializeConversation(testID string, turns []Turn, calls []APICall) {
	m.conv.Initialize(testID, turns, calls)
	m.notify()
}

// ApplyExecutionEnded 处理 execution-completed / execution-stopped:
// 所有实时条目 isLive→false (数据保留), 注册表整体清空。
// 调用方必须随后强制重取该 run 的持久化结果。
func (m *Manager) ApplyExecutionEnded(runID string) {
	m.conv.MarkAllComplete()
	m.registry.ClearAll()
	logger.Info("runstate: execution ended",
		logger.FieldRunID, runID,
	)
	m.notify()
}

// ClearLiveConversations 离开所有运行中 execution 时的显式清空。
func (m *Manager) ClearLiveConversations() {
	m.conv.ClearAll()
	m.notify()
}

// ========================================
// 持久化转录缓存 (REST 拉取的回退数据源)
// ========================================

// SetPersistedTranscript 缓存选中测试的持久化转录。
func (m *Manager) SetPersistedTranscript(testID string, turns []Turn) {
	id := strings.TrimSpace(testID)
	if id == "" {
		return
	}
	m.mu.Lock()
	m.persistedTurns[id] = cloneTurns(turns)
	cb := m.bumpLocked()
	m.mu.Unlock()
	cb()
}

// SetPersistedAPICalls 缓存选中测试的持久化 API 调用。
func (m *Manager) SetPersistedAPICalls(testID string, calls []APICall) {
	id := strings.TrimSpace(testID)
	if id == "" {
		return
	}
	m.mu.Lock()
	m.persistedCalls[id] = cloneCalls(calls)
	cb := m.bumpLocked()
	m.mu.Unlock()
	cb()
}

// ========================================
// 流健康度 / 选中态
// ========================================

// SetStreamStatus 标记流连接健康度。传输错误只设标志, 不清除已有数据。
func (m *Manager) SetStreamStatus(connected bool, errMsg string) {
	m.mu.Lock()
	m.streamConnected = connected
	m.lastStreamError = strings.TrimSpace(errMsg)
	cb := m.bumpLocked()
	m.mu.Unlock()
	cb()
}

// SelectRun 切换选中 run。清空上一 run 的持久化转录缓存
// (实时会话存储不动 — 清空它只绑定显式 ClearLiveConversations)。
func (m *Manager) SelectRun(runID string) {
	rid := strings.TrimSpace(runID)
	m.mu.Lock()
	if m.selectedRunID == rid {
		m.mu.Unlock()
		return
	}
	m.selectedRunID = rid
	m.selectedTestID = ""
	m.persistedTurns = map[string][]Turn{}
	m.persistedCalls = map[string][]APICall{}
	cb := m.bumpLocked()
	m.mu.Unlock()
	cb()
}

// SelectTest 切换选中测试。
func (m *Manager) SelectTest(testID string) {
	id := strings.TrimSpace(testID)
	m.mu.Lock()
	if m.selectedTestID == id {
		m.mu.Unlock()
		return
	}
	m.selectedTestID = id
	cb := m.bumpLocked()
	m.mu.Unlock()
	cb()
}

// Selected 返回当前选中的 (runID, testID)。
func (m *Manager) Selected() (runID, testID string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.selectedRunID, m.selectedTestID
}

// ========================================
// 派生视图 (纯读)
// ========================================

// AnyRunRunning 返回是否有 run 处于 running (轮询节奏依据)。
func (m *Manager) AnyRunRunning() bool {
	if m.registry.Count() > 0 {
		return true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.runList {
		if m.runList[i].Status == StatusRunning {
			return true
		}
	}
	for _, r := range m.runsByID {
		if r.Status == StatusRunning {
			return true
		}
	}
	return false
}

// Run 返回缓存的 run 详情深拷贝, 未加载返回 nil。
func (m *Manager) Run(runID string) *TestRun {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneRun(m.runsByID[strings.TrimSpace(runID)])
}

// RunList 返回 run 列表深拷贝。
func (m *Manager) RunList() []TestRun {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneRunList(m.runList)
}

// RunningTestCount 返回注册表条目数 (§6 导出)。
func (m *Manager) RunningTestCount() int { return m.registry.Count() }

// MergedResults 返回指定 run 的合并结果集 (合成行在前, 无重复)。
func (m *Manager) MergedResults(runID string) []TestResult {
	m.mu.RLock()
	run := m.runsByID[strings.TrimSpace(runID)]
	var persisted []TestResult
	if run != nil {
		persisted = cloneResults(run.Results)
	}
	m.mu.RUnlock()
	return MergeResults(runID, m.registry.Entries(), persisted)
}

// NeedsBackfill 判定选中测试是否需要一次性补拉:
// 运行中但实时存储还没有任何内容。
func (m *Manager) NeedsBackfill(testID, runID string) bool {
	id := strings.TrimSpace(testID)
	if id == "" {
		return false
	}
	if m.conv.HasContent(id) {
		return false
	}
	persistedStatus := persistedStatusFor(m.Run(runID), id)
	return TestIsRunning(m.conv.IsLive(id), m.registry.IsRunningUnder(id, runID), persistedStatus)
}

// View 计算 SelectedViewState — 当前状态的纯派生, 无副作用,
// 每次 render/poll tick 重算安全。
func (m *Manager) View() View {
	m.mu.RLock()
	navRunID := m.selectedRunID
	testID := m.selectedTestID
	run := cloneRun(m.runsByID[navRunID])
	persisted := m.persistedTurns[testID]
	persistedC := m.persistedCalls[testID]
	connected := m.streamConnected
	lastErr := m.lastStreamError
	version := m.version
	m.mu.RUnlock()

	runID := EffectiveRunID(navRunID, run)

	v := View{
		RunID:            runID,
		TestID:           testID,
		StreamConnected:  connected,
		LastStreamError:  lastErr,
		RunningTestCount: m.registry.Count(),
		StateVersion:     version,
	}

	var persistedResults []TestResult
	if run != nil {
		persistedResults = run.Results
	}
	v.MergedResults = MergeResults(runID, m.registry.Entries(), persistedResults)

	if testID == "" {
		v.DisplayTranscript = []Turn{}
		v.DisplayAPICalls = []APICall{}
		return v
	}

	entry, _ := m.conv.Get(testID)
	running := TestIsRunning(
		entry.IsLive,
		m.registry.IsRunningUnder(testID, runID),
		persistedStatusFor(run, testID),
	)
	v.TestRunning = running
	v.IsViewingLive = ViewIsLive(running, run)

	turns, calls, _ := SelectConversationSource(&entry, persisted, persistedC)
	v.DisplayTranscript = cloneTurns(turns)
	v.DisplayAPICalls = cloneCalls(calls)
	return v
}

// Snapshot 返回 dashboard 用的完整状态快照 (深拷贝)。
func (m *Manager) Snapshot() StateSnapshot {
	view := m.View()
	m.mu.RLock()
	runs := cloneRunList(m.runList)
	selected := cloneRun(m.runsByID[m.selectedRunID])
	m.mu.RUnlock()
	return StateSnapshot{
		Runs:         runs,
		SelectedRun:  selected,
		View:         view,
		RunningTests: m.registry.Entries(),
	}
}

// persistedStatusFor 提取 testId 在 run 持久化结果中的最后已知状态。
func persistedStatusFor(run *TestRun, testID string) string {
	if run == nil {
		return ""
	}
	for i := range run.Results {
		if run.Results[i].TestID == testID {
			return run.Results[i].Status
		}
	}
	return ""
}

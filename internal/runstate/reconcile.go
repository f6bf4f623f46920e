// reconcile.go — 对账引擎的纯函数核心。
//
// 无状态, 无锁, 每次 poll tick / 事件到达后安全重算。
package runstate

import "strings"

// TestIsRunning 三路 OR 的"正在运行"判定。
//
// 三个信号各自可能先于其他到达 (网络时序), 任一为真即判定运行中:
//   - 实时会话条目 isLive=true
//   - 注册表存在且 runId 匹配
//   - 最后已知的持久化状态为 running
//
// 注册表信号可能在 selectedRun 尚未加载时就已知 (用户点进刚启动的
// 测试), 判定不依赖 run 对象是否存在。
func TestIsRunning(liveConversation bool, inRegistry bool, persistedStatus string) bool {
	return liveConversation || inRegistry || persistedStatus == StatusRunning
}

// ViewIsLive 判定视图是否处于"直播"。
//
// 仅当测试运行中且 (所属 run 状态为 running 或 run 对象尚未加载)。
// 第二个分支故意偏向展示实时数据: run 元数据缺失时宁可误报直播标签,
// 也不错过实时更新。
func ViewIsLive(running bool, run *TestRun) bool {
	if !running {
		return false
	}
	return run == nil || run.Status == StatusRunning
}

// SyntheticResult 为运行中但尚无持久化行的测试构造占位结果行。
func SyntheticResult(e RunningTestEntry) TestResult {
	name := e.TestName
	if name == "" {
		name = e.TestID
	}
	return TestResult{
		ID:        SyntheticIDPrefix + e.TestID,
		TestID:    e.TestID,
		RunID:     e.RunID,
		TestName:  name,
		Status:    StatusRunning,
		StartedAt: e.StartedAt,
		Synthetic: true,
	}
}

// MergeResults 构造展示结果集: [合成行..., 持久化行...]。
//
// 不变量:
//   - 每个 testId 至多出现一次, 持久化行总是优先于合成行
//     (与注册表清理时序无关 — 持久化集合包含该 testId 即排除合成行)
//   - 注册表条目仅在 runId 与当前 run 匹配时才贡献合成行
//   - 合成行在前是刻意的: 在途测试浮到表顶
func MergeResults(runID string, running []RunningTestEntry, persisted []TestResult) []TestResult {
	rid := strings.TrimSpace(runID)

	persistedIDs := make(map[string]struct{}, len(persisted))
	for _, r := range persisted {
		persistedIDs[r.TestID] = struct{}{}
	}

	merged := make([]TestResult, 0, len(running)+len(persisted))
	for _, e := range running {
		if e.RunID != rid {
			continue
		}
		if _, ok := persistedIDs[e.TestID]; ok {
			continue
		}
		merged = append(merged, SyntheticResult(e))
	}
	merged = append(merged, persisted...)
	return merged
}

// SelectConversationSource 选择展示数据源。
//
// 实时条目有任何内容即为权威 — isLive 翻 false 之后也是:
// 被直播观看过的会话结束后必须继续展示同一份数据,
// 而不是形状可能不同的持久化拉取。否则回退到持久化数据。
func SelectConversationSource(
	entry *ConversationEntry,
	persistedTurns []Turn,
	persistedCalls []APICall,
) (turns []Turn, calls []APICall, fromLiveStore bool) {
	if entry.HasContent() {
		return entry.Transcript, entry.APICalls, true
	}
	return persistedTurns, persistedCalls, false
}

// EffectiveRunID 返回合并/判定所用的 runId:
// 导航上下文 (URL 派生) 优先, 回退到已加载 run 的 runId。
func EffectiveRunID(navRunID string, run *TestRun) string {
	if rid := strings.TrimSpace(navRunID); rid != "" {
		return rid
	}
	if run != nil {
		return run.RunID
	}
	return ""
}

// runFreshness 比较两份 run 数据的新鲜度标记。
// 依次比较: 持久化结果数 → 已完结结果数 → 聚合计数 (passed+failed)。
// 返回 true 表示 a 比 b 更新鲜 (严格)。
func runFresherThan(a, b *TestRun) bool {
	if a == nil || b == nil {
		return false
	}
	if len(a.Results) != len(b.Results) {
		return len(a.Results) > len(b.Results)
	}
	ac, bc := completedCount(a.Results), completedCount(b.Results)
	if ac != bc {
		return ac > bc
	}
	return a.Passed+a.Failed > b.Passed+b.Failed
}

func completedCount(results []TestResult) int {
	n := 0
	for _, r := range results {
		if r.Status != StatusRunning && r.Status != StatusPending {
			n++
		}
	}
	return n
}

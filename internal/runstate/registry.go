// registry.go — Running-Test Registry: 持久化结果出现前的"正在执行"成员表。
package runstate

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// RunningRegistry testId → RunningTestEntry 映射。
//
// 由流事件填充 (worker 状态 / 会话轮次 / 初始 worker 快照),
// execution 结束时整体清空。Add 幂等 — 同一 testId 重复到达
// (跨通道竞争) 只保留一个条目。
type RunningRegistry struct {
	mu      sync.RWMutex
	entries map[string]RunningTestEntry
}

// NewRunningRegistry 创建空注册表。
func NewRunningRegistry() *RunningRegistry {
	return &RunningRegistry{entries: make(map[string]RunningTestEntry)}
}

// Add 幂等 upsert。重复 Add 更新名称/runId 但保留首次 StartedAt。
func (r *RunningRegistry) Add(testID, testName, runID string) {
	id := strings.TrimSpace(testID)
	if id == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.entries[id]; ok {
		// 已存在: 补全缺失字段, 不重置 StartedAt
		if name := strings.TrimSpace(testName); name != "" {
			prev.TestName = name
		}
		if rid := strings.TrimSpace(runID); rid != "" {
			prev.RunID = rid
		}
		r.entries[id] = prev
		return
	}
	r.entries[id] = RunningTestEntry{
		TestID:    id,
		TestName:  strings.TrimSpace(testName),
		RunID:     strings.TrimSpace(runID),
		StartedAt: time.Now(),
	}
}

// Remove 移除条目。不存在则为 no-op。
func (r *RunningRegistry) Remove(testID string) {
	id := strings.TrimSpace(testID)
	if id == "" {
		return
	}
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
}

// ClearAll 整体清空。仅由 execution-completed / execution-stopped 触发,
// 调用方随后必须强制重取持久化结果 (合成行在此刻转换为持久化行)。
func (r *RunningRegistry) ClearAll() {
	r.mu.Lock()
	r.entries = make(map[string]RunningTestEntry)
	r.mu.Unlock()
}

// Get 查询条目。
func (r *RunningRegistry) Get(testID string) (RunningTestEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[strings.TrimSpace(testID)]
	return e, ok
}

// IsRunningUnder 回答 "测试 T 是否在 run R 下运行"。
// 必须同时校验存在性和 runId 匹配 — 陈旧 runId 的条目不算。
func (r *RunningRegistry) IsRunningUnder(testID, runID string) bool {
	e, ok := r.Get(testID)
	if !ok {
		return false
	}
	return e.RunID == strings.TrimSpace(runID)
}

// Entries 返回全部条目的稳定排序副本 (StartedAt 升序, 同时刻按 testId)。
func (r *RunningRegistry) Entries() []RunningTestEntry {
	r.mu.RLock()
	out := make([]RunningTestEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].TestID < out[j].TestID
	})
	return out
}

// Count 返回条目数量。
func (r *RunningRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

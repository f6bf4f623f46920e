package runstate

import (
	"testing"
	"time"
)

// Scenario A: 注册表为空, worker-status 流事件在 selectedRun 尚未加载时
// 到达 → t1 在 r1 下判定为运行中, 合并结果出现合成行。
func TestManager_ScenarioA_WorkerStatusBeforeRunLoads(t *testing.T) {
	m := NewManager()
	m.SelectRun("r1")
	m.AddRunningTest("t1", "Foo", "r1")

	m.SelectTest("t1")
	v := m.View()
	if !v.TestRunning {
		t.Fatal("t1 must be running under r1 with selectedRun still unloaded")
	}
	if !v.IsViewingLive {
		t.Fatal("view must be live while run metadata is unavailable")
	}

	merged := m.MergedResults("r1")
	if len(merged) != 1 || !merged[0].Synthetic || merged[0].TestID != "t1" {
		t.Fatalf("merged = %+v, want one synthetic row for t1", merged)
	}
}

// Scenario B: 实时存储 3 轮 isLive=true, execution-completed 到达 →
// 所有条目 isLive=false, 数据保留, runningTestCount=0。
func TestManager_ScenarioB_ExecutionCompleted(t *testing.T) {
	m := NewManager()
	for i := 0; i < 3; i++ {
		m.AppendTurn("t1", Turn{Content: "turn"}, "r1")
	}
	if m.RunningTestCount() != 1 {
		t.Fatalf("RunningTestCount = %d before completion", m.RunningTestCount())
	}

	m.ApplyExecutionEnded("r1")

	e, ok := m.Conversations().Get("t1")
	if !ok {
		t.Fatal("conversation entry cleared by execution end")
	}
	if e.IsLive {
		t.Fatal("isLive must be false after execution end")
	}
	if len(e.Transcript) != 3 {
		t.Fatalf("transcript len = %d, want 3 (retained)", len(e.Transcript))
	}
	if m.RunningTestCount() != 0 {
		t.Fatalf("RunningTestCount = %d, want 0", m.RunningTestCount())
	}
}

// Scenario D 的状态侧: 空实时存储的运行中测试需要补拉;
// Initialize 后数据成为展示源。
func TestManager_ScenarioD_BackfillSeedsDisplay(t *testing.T) {
	m := NewManager()
	m.SelectRun("r1")
	m.AddRunningTest("t1", "Foo", "r1")
	m.SelectTest("t1")

	if !m.NeedsBackfill("t1", "r1") {
		t.Fatal("running test with empty live store must need backfill")
	}

	m.InitializeConversation("t1", []Turn{{Content: "missed-1"}, {Content: "missed-2"}}, nil)

	if m.NeedsBackfill("t1", "r1") {
		t.Fatal("backfill must be single-shot once content exists")
	}
	v := m.View()
	if !v.IsViewingLive {
		t.Fatal("view must be live after backfill")
	}
	if len(v.DisplayTranscript) != 2 || v.DisplayTranscript[0].Content != "missed-1" {
		t.Fatalf("DisplayTranscript = %+v", v.DisplayTranscript)
	}
}

func TestManager_ApplyRunUpdate_StalePollDropped(t *testing.T) {
	m := NewManager()

	streamed := TestRun{
		RunID:  "r1",
		Status: StatusRunning,
		Results: []TestResult{
			{TestID: "t1", Status: StatusCompleted},
			{TestID: "t2", Status: StatusRunning},
		},
	}
	m.ApplyRunUpdate(streamed, SourceStream)

	// 陈旧 poll 响应 (结果更少) 不得回退流状态
	stale := TestRun{
		RunID:   "r1",
		Status:  StatusRunning,
		Results: []TestResult{{TestID: "t1", Status: StatusRunning}},
	}
	m.ApplyRunUpdate(stale, SourcePoll)

	run := m.Run("r1")
	if len(run.Results) != 2 {
		t.Fatalf("results len = %d, stale poll reverted streamed state", len(run.Results))
	}

	// 更新鲜的 poll 响应正常应用
	fresher := TestRun{
		RunID:  "r1",
		Status: StatusCompleted,
		Results: []TestResult{
			{TestID: "t1", Status: StatusCompleted},
			{TestID: "t2", Status: StatusCompleted},
		},
	}
	m.ApplyRunUpdate(fresher, SourcePoll)
	run = m.Run("r1")
	if run.Status != StatusCompleted {
		t.Fatalf("fresher poll not applied, status = %q", run.Status)
	}
}

func TestManager_ApplyRunList_KeepsFresherCachedDetail(t *testing.T) {
	m := NewManager()
	m.ApplyRunUpdate(TestRun{
		RunID:  "r1",
		Status: StatusRunning,
		Results: []TestResult{
			{TestID: "t1", Status: StatusCompleted},
			{TestID: "t2", Status: StatusRunning},
		},
	}, SourceStream)

	// 列表快照的 r1 不带结果 (常见: 列表端点省略 results)
	m.ApplyRunList([]TestRun{{RunID: "r1", Status: StatusRunning}}, SourcePoll)

	run := m.Run("r1")
	if len(run.Results) != 2 {
		t.Fatalf("cached detail results lost on list refresh: %d", len(run.Results))
	}
	if len(m.RunList()) != 1 {
		t.Fatalf("run list len = %d", len(m.RunList()))
	}
}

// 持久化终态行取代注册表条目: 单独移除, 不等 execution 结束。
func TestManager_PersistedTerminalRowSupersedesRegistry(t *testing.T) {
	m := NewManager()
	m.AddRunningTest("t1", "A", "r1")
	m.AddRunningTest("t2", "B", "r1")
	m.AddRunningTest("t3", "C", "r2") // 其他 run 下的条目

	m.ApplyResultsUpdate("r1", []TestResult{
		{TestID: "t1", RunID: "r1", Status: StatusPassed},
		{TestID: "t2", RunID: "r1", Status: StatusRunning},
		{TestID: "t3", RunID: "r1", Status: StatusFailed},
	}, SourceStream)

	if m.Registry().IsRunningUnder("t1", "r1") {
		t.Fatal("terminal persisted row must remove the registry entry")
	}
	if !m.Registry().IsRunningUnder("t2", "r1") {
		t.Fatal("still-running persisted row must keep the registry entry")
	}
	if !m.Registry().IsRunningUnder("t3", "r2") {
		t.Fatal("entry under a different run must survive")
	}

	// run-update 路径同样收割
	m.AddRunningTest("t4", "D", "r1")
	m.ApplyRunUpdate(TestRun{
		RunID:  "r1",
		Status: StatusRunning,
		Results: []TestResult{
			{TestID: "t1", RunID: "r1", Status: StatusPassed},
			{TestID: "t2", RunID: "r1", Status: StatusRunning},
			{TestID: "t3", RunID: "r1", Status: StatusFailed},
			{TestID: "t4", RunID: "r1", Status: StatusError},
		},
	}, SourceStream)
	if m.Registry().IsRunningUnder("t4", "r1") {
		t.Fatal("run-update with terminal row must remove the registry entry")
	}
}

func TestManager_ViewFallsBackToPersistedTranscript(t *testing.T) {
	m := NewManager()
	m.SelectRun("r1")
	m.ApplyRunUpdate(TestRun{
		RunID:   "r1",
		Status:  StatusCompleted,
		Results: []TestResult{{TestID: "t1", Status: StatusCompleted}},
	}, SourceStream)
	m.SelectTest("t1")
	m.SetPersistedTranscript("t1", []Turn{{Content: "archived"}})

	v := m.View()
	if v.IsViewingLive {
		t.Fatal("completed test must not view live")
	}
	if len(v.DisplayTranscript) != 1 || v.DisplayTranscript[0].Content != "archived" {
		t.Fatalf("DisplayTranscript = %+v", v.DisplayTranscript)
	}
}

func TestManager_SelectRunClearsPersistedCaches(t *testing.T) {
	m := NewManager()
	m.SelectRun("r1")
	m.SelectTest("t1")
	m.SetPersistedTranscript("t1", []Turn{{Content: "r1 data"}})

	m.SelectRun("r2")
	_, testID := m.Selected()
	if testID != "" {
		t.Fatalf("selectedTest = %q, want cleared on run change", testID)
	}
	m.SelectTest("t1")
	v := m.View()
	if len(v.DisplayTranscript) != 0 {
		t.Fatal("persisted cache leaked across run change")
	}
}

func TestManager_StreamStatusDoesNotClearData(t *testing.T) {
	m := NewManager()
	m.AppendTurn("t1", Turn{Content: "a"}, "r1")
	m.SetStreamStatus(false, "connection lost")

	v := m.View()
	if v.StreamConnected {
		t.Fatal("StreamConnected = true")
	}
	if v.LastStreamError != "connection lost" {
		t.Fatalf("LastStreamError = %q", v.LastStreamError)
	}
	if e, ok := m.Conversations().Get("t1"); !ok || len(e.Transcript) != 1 {
		t.Fatal("transport error cleared received data")
	}
}

func TestManager_OnChangeVersionMonotonic(t *testing.T) {
	m := NewManager()
	var versions []uint64
	m.SetOnChange(func(v uint64) { versions = append(versions, v) })

	m.AddRunningTest("t1", "a", "r1")
	m.AppendTurn("t1", Turn{Content: "x"}, "r1")
	m.ApplyExecutionEnded("r1")

	if len(versions) < 3 {
		t.Fatalf("onChange fired %d times, want >= 3", len(versions))
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Fatalf("versions not monotonic: %v", versions)
		}
	}
}

func TestManager_AnyRunRunning(t *testing.T) {
	m := NewManager()
	if m.AnyRunRunning() {
		t.Fatal("empty manager reports running")
	}
	m.ApplyRunList([]TestRun{{RunID: "r1", Status: StatusCompleted}}, SourcePoll)
	if m.AnyRunRunning() {
		t.Fatal("completed-only list reports running")
	}
	m.ApplyRunList([]TestRun{{RunID: "r1", Status: StatusRunning}}, SourcePoll)
	if !m.AnyRunRunning() {
		t.Fatal("running run not detected")
	}

	m2 := NewManager()
	m2.AddRunningTest("t1", "a", "r1")
	if !m2.AnyRunRunning() {
		t.Fatal("registry entry must count as running")
	}
}

func TestManager_SnapshotDeepCopy(t *testing.T) {
	m := NewManager()
	m.SelectRun("r1")
	m.ApplyRunUpdate(TestRun{
		RunID:     "r1",
		Status:    StatusRunning,
		StartedAt: time.Now(),
		Results:   []TestResult{{TestID: "t1", Status: StatusRunning}},
	}, SourceStream)

	snap := m.Snapshot()
	snap.Runs[0].Results[0].Status = StatusFailed
	if m.Run("r1").Results[0].Status != StatusRunning {
		t.Fatal("Snapshot leaked internal state")
	}
}

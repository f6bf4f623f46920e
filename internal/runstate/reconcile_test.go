package runstate

import "testing"

func TestTestIsRunning_ThreeWayOr(t *testing.T) {
	cases := []struct {
		name      string
		live      bool
		registry  bool
		persisted string
		want      bool
	}{
		{"all false", false, false, "completed", false},
		{"live only", true, false, "", true},
		{"registry only", false, true, "", true},
		{"persisted running only", false, false, StatusRunning, true},
		{"persisted completed", false, false, StatusCompleted, false},
	}
	for _, c := range cases {
		if got := TestIsRunning(c.live, c.registry, c.persisted); got != c.want {
			t.Fatalf("%s: TestIsRunning = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestViewIsLive_FavorsLiveWhenRunMissing(t *testing.T) {
	// run 元数据未加载 → 偏向直播 (误报优于漏报)
	if !ViewIsLive(true, nil) {
		t.Fatal("run not loaded: view must be live")
	}
	if !ViewIsLive(true, &TestRun{RunID: "r1", Status: StatusRunning}) {
		t.Fatal("running run: view must be live")
	}
	if ViewIsLive(true, &TestRun{RunID: "r1", Status: StatusCompleted}) {
		t.Fatal("completed run: view must not be live")
	}
	if ViewIsLive(false, nil) {
		t.Fatal("not running: view must not be live")
	}
}

func TestMergeResults_NoDuplication(t *testing.T) {
	running := []RunningTestEntry{
		{TestID: "t1", TestName: "A", RunID: "r1"},
		{TestID: "t2", TestName: "B", RunID: "r1"},
	}
	persisted := []TestResult{
		{TestID: "t2", RunID: "r1", Status: StatusCompleted},
		{TestID: "t3", RunID: "r1", Status: StatusFailed},
	}

	merged := MergeResults("r1", running, persisted)
	seen := map[string]int{}
	for _, r := range merged {
		seen[r.TestID]++
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("testId %s appears %d times", id, n)
		}
	}
	// t2 已持久化 → 合成行被排除, 持久化行保留
	for _, r := range merged {
		if r.TestID == "t2" && r.Synthetic {
			t.Fatal("persisted row must supersede synthetic for same testId")
		}
	}
}

func TestMergeResults_SyntheticFirst(t *testing.T) {
	running := []RunningTestEntry{{TestID: "t9", TestName: "In flight", RunID: "r1"}}
	persisted := []TestResult{{TestID: "t1", RunID: "r1", Status: StatusPassed}}

	merged := MergeResults("r1", running, persisted)
	if len(merged) != 2 {
		t.Fatalf("len = %d, want 2", len(merged))
	}
	if !merged[0].Synthetic || merged[0].TestID != "t9" {
		t.Fatalf("in-flight row must surface first, got %+v", merged[0])
	}
	if merged[0].ID != SyntheticIDPrefix+"t9" {
		t.Fatalf("synthetic sentinel id = %q", merged[0].ID)
	}
	if merged[0].Status != StatusRunning {
		t.Fatalf("synthetic status = %q", merged[0].Status)
	}
}

func TestMergeResults_ExcludesForeignRunEntries(t *testing.T) {
	running := []RunningTestEntry{{TestID: "t1", RunID: "r-old"}}
	merged := MergeResults("r1", running, nil)
	if len(merged) != 0 {
		t.Fatalf("stale-run entry leaked into merge: %+v", merged)
	}
}

// Scenario C: poll 响应已含 t1 的持久化行, 注册表清理滞后 (竞争) —
// 合并必须与注册表清理时序无关地排除合成行。
func TestMergeResults_RegistryCleanupRace(t *testing.T) {
	running := []RunningTestEntry{{TestID: "t1", TestName: "Foo", RunID: "r1"}}
	persisted := []TestResult{{TestID: "t1", RunID: "r1", Status: StatusCompleted}}

	merged := MergeResults("r1", running, persisted)
	if len(merged) != 1 {
		t.Fatalf("len = %d, want 1", len(merged))
	}
	if merged[0].Synthetic || merged[0].Status != StatusCompleted {
		t.Fatalf("merged[0] = %+v, want persisted row", merged[0])
	}
}

func TestSelectConversationSource_LiveContentAuthoritative(t *testing.T) {
	entry := &ConversationEntry{
		TestID:     "t1",
		Transcript: []Turn{{Content: "watched live"}},
		IsLive:     false, // 已结束 — 数据仍是权威展示源
		IsComplete: true,
	}
	persisted := []Turn{{Content: "from storage"}}

	turns, _, fromLive := SelectConversationSource(entry, persisted, nil)
	if !fromLive {
		t.Fatal("non-empty live entry must be authoritative even after complete")
	}
	if turns[0].Content != "watched live" {
		t.Fatalf("turns[0] = %q", turns[0].Content)
	}
}

func TestSelectConversationSource_FallsBackToPersisted(t *testing.T) {
	entry := &ConversationEntry{TestID: "t1", IsLive: true}
	persisted := []Turn{{Content: "from storage"}}

	turns, _, fromLive := SelectConversationSource(entry, persisted, nil)
	if fromLive {
		t.Fatal("empty live entry must not be selected")
	}
	if len(turns) != 1 || turns[0].Content != "from storage" {
		t.Fatalf("turns = %+v", turns)
	}
}

func TestEffectiveRunID(t *testing.T) {
	if got := EffectiveRunID("r-url", &TestRun{RunID: "r-loaded"}); got != "r-url" {
		t.Fatalf("nav runId must win, got %q", got)
	}
	if got := EffectiveRunID("", &TestRun{RunID: "r-loaded"}); got != "r-loaded" {
		t.Fatalf("fallback to loaded run failed, got %q", got)
	}
	if got := EffectiveRunID("  ", nil); got != "" {
		t.Fatalf("got %q, want empty", got)
	}
}

func TestRunFresherThan(t *testing.T) {
	more := &TestRun{Results: []TestResult{{Status: StatusCompleted}, {Status: StatusRunning}}}
	fewer := &TestRun{Results: []TestResult{{Status: StatusRunning}}}
	if !runFresherThan(more, fewer) {
		t.Fatal("more results must be fresher")
	}
	if runFresherThan(fewer, more) {
		t.Fatal("fewer results reported fresher")
	}

	// 结果数相同 → 比完结数
	a := &TestRun{Results: []TestResult{{Status: StatusCompleted}}}
	b := &TestRun{Results: []TestResult{{Status: StatusRunning}}}
	if !runFresherThan(a, b) {
		t.Fatal("more completed results must be fresher")
	}

	// 完全相同 → 不更新鲜 (严格比较)
	if runFresherThan(a, a) {
		t.Fatal("equal runs must not compare fresher")
	}
}

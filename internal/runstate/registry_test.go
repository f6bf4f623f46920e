package runstate

import "testing"

func TestRegistry_AddIdempotent(t *testing.T) {
	r := NewRunningRegistry()
	r.Add("t1", "Confirm appointment", "r1")
	r.Add("t1", "Confirm appointment", "r1")

	if r.Count() != 1 {
		t.Fatalf("Count = %d, want 1", r.Count())
	}
	e, ok := r.Get("t1")
	if !ok {
		t.Fatal("entry missing after double add")
	}
	if e.TestName != "Confirm appointment" || e.RunID != "r1" {
		t.Fatalf("entry = %+v", e)
	}
}

func TestRegistry_AddPreservesStartedAt(t *testing.T) {
	r := NewRunningRegistry()
	r.Add("t1", "", "r1")
	first, _ := r.Get("t1")
	r.Add("t1", "Reschedule", "r1")
	second, _ := r.Get("t1")

	if !second.StartedAt.Equal(first.StartedAt) {
		t.Fatal("StartedAt reset on idempotent re-add")
	}
	if second.TestName != "Reschedule" {
		t.Fatalf("TestName = %q, want backfilled name", second.TestName)
	}
}

func TestRegistry_RemoveAbsentIsNoop(t *testing.T) {
	r := NewRunningRegistry()
	r.Remove("ghost")
	if r.Count() != 0 {
		t.Fatalf("Count = %d", r.Count())
	}
	r.Add("t1", "n", "r1")
	r.Remove("t1")
	if _, ok := r.Get("t1"); ok {
		t.Fatal("entry survived Remove")
	}
}

func TestRegistry_IsRunningUnder_RequiresRunIDMatch(t *testing.T) {
	r := NewRunningRegistry()
	r.Add("t1", "n", "r1")

	if !r.IsRunningUnder("t1", "r1") {
		t.Fatal("t1 should be running under r1")
	}
	if r.IsRunningUnder("t1", "r2") {
		t.Fatal("stale runId entry must not apply to a different run")
	}
	if r.IsRunningUnder("t2", "r1") {
		t.Fatal("absent test reported running")
	}
}

func TestRegistry_ClearAll(t *testing.T) {
	r := NewRunningRegistry()
	r.Add("t1", "a", "r1")
	r.Add("t2", "b", "r1")
	r.ClearAll()
	if r.Count() != 0 {
		t.Fatalf("Count = %d after ClearAll", r.Count())
	}
}

func TestRegistry_EntriesStableOrder(t *testing.T) {
	r := NewRunningRegistry()
	r.Add("t2", "b", "r1")
	r.Add("t1", "a", "r1")
	r.Add("t3", "c", "r1")

	entries := r.Entries()
	if len(entries) != 3 {
		t.Fatalf("len = %d", len(entries))
	}
	// StartedAt 几乎同时 — 顺序必须确定 (时间戳相同时按 testId)
	for i := 1; i < len(entries); i++ {
		a, b := entries[i-1], entries[i]
		if a.StartedAt.After(b.StartedAt) {
			t.Fatal("entries not ordered by StartedAt")
		}
		if a.StartedAt.Equal(b.StartedAt) && a.TestID >= b.TestID {
			t.Fatal("tie not broken by testId")
		}
	}
}

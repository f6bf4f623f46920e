package config

import "testing"

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	if cfg.BackendBaseURL != "http://127.0.0.1:3100" {
		t.Fatalf("BackendBaseURL = %q", cfg.BackendBaseURL)
	}
	if cfg.PollActiveSec != 3 {
		t.Fatalf("PollActiveSec = %d, want 3", cfg.PollActiveSec)
	}
	if cfg.PollIdleSec != 30 {
		t.Fatalf("PollIdleSec = %d, want 30", cfg.PollIdleSec)
	}
	if cfg.DashboardListen != ":8090" {
		t.Fatalf("DashboardListen = %q", cfg.DashboardListen)
	}
	if cfg.PostgresConnStr != "" {
		t.Fatalf("PostgresConnStr default should be empty, got %q", cfg.PostgresConnStr)
	}
}

func TestLoad_EnvOverridesAndMin(t *testing.T) {
	t.Setenv("POLL_ACTIVE_SEC", "0") // 低于 min:1 → clamp 到 1
	t.Setenv("BACKEND_BASE_URL", "http://backend.internal:9000")

	cfg := Load()
	if cfg.PollActiveSec != 1 {
		t.Fatalf("PollActiveSec = %d, want clamp to 1", cfg.PollActiveSec)
	}
	if cfg.BackendBaseURL != "http://backend.internal:9000" {
		t.Fatalf("BackendBaseURL = %q", cfg.BackendBaseURL)
	}
}

package util

import "testing"

func TestClampInt(t *testing.T) {
	cases := []struct {
		v, lo, hi, want int
	}{
		{5, 0, 10, 5},
		{-1, 0, 10, 0},
		{11, 0, 10, 10},
	}
	for _, c := range cases {
		if got := ClampInt(c.v, c.lo, c.hi); got != c.want {
			t.Fatalf("ClampInt(%d, %d, %d) = %d, want %d", c.v, c.lo, c.hi, got, c.want)
		}
	}
}

func TestEnvInt(t *testing.T) {
	t.Setenv("TEST_ENV_INT", "42")
	if got := EnvInt("TEST_ENV_INT", 1, 0); got != 42 {
		t.Fatalf("EnvInt = %d, want 42", got)
	}
	if got := EnvInt("TEST_ENV_INT_MISSING", 7, 0); got != 7 {
		t.Fatalf("EnvInt missing = %d, want 7", got)
	}
	t.Setenv("TEST_ENV_INT", "-5")
	if got := EnvInt("TEST_ENV_INT", 1, 0); got != 0 {
		t.Fatalf("EnvInt below min = %d, want 0", got)
	}
}

func TestEnvBool(t *testing.T) {
	t.Setenv("TEST_ENV_BOOL", "yes")
	if !EnvBool("TEST_ENV_BOOL", false) {
		t.Fatal("EnvBool(yes) = false")
	}
	t.Setenv("TEST_ENV_BOOL", "off")
	if EnvBool("TEST_ENV_BOOL", true) {
		t.Fatal("EnvBool(off) = true")
	}
	if !EnvBool("TEST_ENV_BOOL_MISSING", true) {
		t.Fatal("EnvBool default lost")
	}
}

func TestLoadFromEnv(t *testing.T) {
	type cfg struct {
		Name     string  `env:"TEST_LOAD_NAME" default:"fallback"`
		Count    int     `env:"TEST_LOAD_COUNT" default:"3" min:"1"`
		Ratio    float64 `env:"TEST_LOAD_RATIO" default:"0.5" min:"0"`
		Enabled  bool    `env:"TEST_LOAD_ENABLED" default:"true"`
		Untagged string
	}

	t.Setenv("TEST_LOAD_COUNT", "9")
	var c cfg
	LoadFromEnv(&c)

	if c.Name != "fallback" {
		t.Fatalf("Name = %q", c.Name)
	}
	if c.Count != 9 {
		t.Fatalf("Count = %d", c.Count)
	}
	if c.Ratio != 0.5 {
		t.Fatalf("Ratio = %v", c.Ratio)
	}
	if !c.Enabled {
		t.Fatal("Enabled = false")
	}
	if c.Untagged != "" {
		t.Fatalf("Untagged touched: %q", c.Untagged)
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := FirstNonEmpty("", "  ", "r1", "r2"); got != "r1" {
		t.Fatalf("FirstNonEmpty = %q, want r1", got)
	}
	if got := FirstNonEmpty("", "  "); got != "" {
		t.Fatalf("FirstNonEmpty = %q, want empty", got)
	}
}

package logger

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInit_DoesNotPanic(t *testing.T) {
	Init("development")
	Init("production")
	Info("after init", FieldComponent, "test")
}

func TestInitWithFile_CreatesLogFile(t *testing.T) {
	dir := t.TempDir()
	if err := InitWithFile(dir); err != nil {
		t.Fatalf("InitWithFile: %v", err)
	}
	defer ShutdownFileHandler()

	Info("file sink smoke", FieldRunID, "r1")
	ShutdownFileHandler()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	found := false
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "watchd-") && strings.HasSuffix(e.Name(), ".log") {
			found = true
			data, err := os.ReadFile(filepath.Join(dir, e.Name()))
			if err != nil {
				t.Fatalf("ReadFile: %v", err)
			}
			if !strings.Contains(string(data), "file sink smoke") {
				t.Fatal("log line not written to file")
			}
		}
	}
	if !found {
		t.Fatal("no watchd-*.log created")
	}
}

func TestFromContext_FallsBackToDefault(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext returned nil for empty context")
	}
}

func TestWithContext_RoundTrip(t *testing.T) {
	custom := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx := WithContext(context.Background(), custom)
	if FromContext(ctx) != custom {
		t.Fatal("FromContext did not return injected logger")
	}
}

func TestShutdownFileHandler_Idempotent(t *testing.T) {
	ShutdownFileHandler()
	ShutdownFileHandler()
}

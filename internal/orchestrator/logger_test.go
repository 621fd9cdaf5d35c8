package orchestrator

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDebugLogger_WritesToFile(t *testing.T) {
	dir := t.TempDir()
	logger := NewDebugLoggerForDir(dir)
	logger.Log("round %d started", 3)
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(LogPath(dir))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), "round 3 started") {
		t.Errorf("log = %q", data)
	}
	if LogPath(dir) != filepath.Join(dir, ".delve", "logs", "delve-debug.log") {
		t.Errorf("LogPath() = %q", LogPath(dir))
	}
}

func TestDebugLogger_NopAndNilAreSafe(t *testing.T) {
	NopLogger().Log("ignored %s", "message")
	if err := NopLogger().Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}

	var l *DebugLogger
	l.Log("ignored")
	if err := l.Close(); err != nil {
		t.Errorf("nil Close() error = %v", err)
	}
}

func TestDebugLog_UsesPackageLogger(t *testing.T) {
	dir := t.TempDir()
	logger := NewDebugLoggerForDir(dir)
	setPackageLogger(logger)
	debugLog("dispatching %d directives", 2)
	setPackageLogger(nil)
	debugLog("dropped")
	logger.Close()

	data, err := os.ReadFile(LogPath(dir))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), "dispatching 2 directives") || strings.Contains(string(data), "dropped") {
		t.Errorf("log = %q", data)
	}
}

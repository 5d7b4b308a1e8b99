package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestInitLoggingWritesToFile(t *testing.T) {
	dir := t.TempDir()
	err := InitLogging(&LogConfig{
		LogDir:     dir,
		MaxSize:    1024 * 1024,
		MaxBackups: 2,
		LogLevel:   DEBUG,
	})
	if err != nil {
		t.Fatalf("InitLogging() error = %v", err)
	}
	defer setOutput(os.Stderr)

	InfoLogger.Println("info line")
	ErrorLogger.Println("error line")

	logFile := filepath.Join(dir, "coffer_"+time.Now().Format("2006-01-02")+".log")
	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "INFO: ") || !strings.Contains(content, "info line") {
		t.Error("info line missing from log file")
	}
	if !strings.Contains(content, "ERROR: ") || !strings.Contains(content, "error line") {
		t.Error("error line missing from log file")
	}
}

func TestLoggersAvailableBeforeInit(t *testing.T) {
	// The package-level loggers are usable from init(), so early failures
	// always have somewhere to go.
	if InfoLogger == nil || ErrorLogger == nil || WarningLogger == nil || DebugLogger == nil {
		t.Fatal("loggers not initialized by default")
	}
}

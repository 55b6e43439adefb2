package applog

import (
	"strings"
	"testing"
	"time"
)

func TestLoggerLevelsFiltersBelowThreshold(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	logger := New(INFO, tmpDir, 100)
	defer logger.Close()

	logger.Error("error message")
	logger.Warn("warn message")
	logger.Info("info message")
	logger.Debug("debug message") // should not appear
	logger.Trace("trace message") // should not appear

	buffer := logger.GetBuffer()
	if len(buffer) != 3 {
		t.Fatalf("expected 3 log entries, got %d", len(buffer))
	}
	if buffer[0].Level != ERROR || buffer[1].Level != WARN || buffer[2].Level != INFO {
		t.Errorf("unexpected level sequence: %v %v %v", buffer[0].Level, buffer[1].Level, buffer[2].Level)
	}
}

func TestLoggerContextFields(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	logger := New(INFO, tmpDir, 100)
	defer logger.Close()

	logger.Info("checking release", "owner", "example", "attempt", 2)

	buffer := logger.GetBuffer()
	if len(buffer) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(buffer))
	}
	if buffer[0].Context["owner"] != "example" || buffer[0].Context["attempt"] != 2 {
		t.Errorf("unexpected context: %v", buffer[0].Context)
	}
}

func TestWarnRateLimitedSuppressesWithinInterval(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	logger := New(WARN, tmpDir, 100)
	defer logger.Close()

	logger.WarnRateLimited("catalog-retry", time.Hour, "retrying")
	logger.WarnRateLimited("catalog-retry", time.Hour, "retrying")

	buffer := logger.GetBuffer()
	if len(buffer) != 1 {
		t.Fatalf("expected rate limiting to suppress the second call, got %d entries", len(buffer))
	}
}

func TestTraceTagGatesOutput(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	logger := New(TRACE, tmpDir, 100)
	defer logger.Close()

	logger.EnableTraceTag("download")
	logger.TraceTag("download", "chunk written")
	logger.TraceTag("verify", "should be suppressed")

	buffer := logger.GetBuffer()
	if len(buffer) != 1 {
		t.Fatalf("expected only the enabled tag to log, got %d entries", len(buffer))
	}
	if buffer[0].Message != "chunk written" {
		t.Errorf("unexpected message: %s", buffer[0].Message)
	}
}

func TestCopyWritesBufferedEntries(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	logger := New(INFO, tmpDir, 100)
	defer logger.Close()

	logger.Info("first")
	logger.Info("second")

	var sb strings.Builder
	if err := logger.Copy(&sb); err != nil {
		t.Fatalf("Copy returned error: %v", err)
	}
	out := sb.String()
	if !strings.Contains(out, "first") || !strings.Contains(out, "second") {
		t.Errorf("expected both entries in copy output, got %q", out)
	}
}

func TestLevelFromStringRoundTrips(t *testing.T) {
	t.Parallel()

	for _, lvl := range []Level{ERROR, WARN, INFO, DEBUG, TRACE} {
		name := LevelToString(lvl)
		if got := LevelFromString(name); got != lvl {
			t.Errorf("LevelFromString(%q) = %v, want %v", name, got, lvl)
		}
	}
}

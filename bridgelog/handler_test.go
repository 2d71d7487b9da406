package bridgelog

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestHandleWritesMessageAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, slog.LevelInfo))

	logger.Info("reclaiming stale worker socket", "socket", "/tmp/.bref/php-fpm.sock")

	out := buf.String()
	if !strings.Contains(out, `"reclaiming stale worker socket"`) {
		t.Fatalf("expected message in output, got %q", out)
	}
	if !strings.Contains(out, `socket: "/tmp/.bref/php-fpm.sock"`) {
		t.Fatalf("expected attr in output, got %q", out)
	}
}

func TestEnabledRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, slog.LevelWarn))

	logger.Info("should be suppressed")
	if buf.Len() != 0 {
		t.Fatalf("expected Info to be suppressed at Warn level, got %q", buf.String())
	}

	logger.Warn("should appear")
	if buf.Len() == 0 {
		t.Fatalf("expected Warn to be emitted")
	}
}

func TestWithAttrsCarriesIntoSubsequentRecords(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, slog.LevelInfo)).With("pid", "123")

	logger.Info("stale worker signaled")

	if !strings.Contains(buf.String(), `pid: "123"`) {
		t.Fatalf("expected carried attr in output, got %q", buf.String())
	}
}

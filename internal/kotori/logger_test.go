package kotori

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func decodeLogLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()

	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("unmarshal log line %q: %v", line, err)
		}
		out = append(out, rec)
	}
	return out
}

func TestNewLogger_SplitsBySeverity(t *testing.T) {
	t.Parallel()

	var out, errOut bytes.Buffer
	logger := NewLogger(slog.LevelInfo, &out, &errOut)

	logger.Info("opened archive", "pages", 12)
	logger.Warn("slow walk")
	logger.Error("rewrite failed", "kind", "delete_page")

	outRecs := decodeLogLines(t, &out)
	if len(outRecs) != 2 {
		t.Fatalf("primary records = %d, want 2: %v", len(outRecs), outRecs)
	}
	for _, rec := range outRecs {
		if rec["level"] == "ERROR" {
			t.Fatalf("primary stream received an ERROR record: %v", rec)
		}
	}

	errRecs := decodeLogLines(t, &errOut)
	if len(errRecs) != 1 {
		t.Fatalf("error records = %d, want 1: %v", len(errRecs), errRecs)
	}
	if errRecs[0]["msg"] != "rewrite failed" || errRecs[0]["kind"] != "delete_page" {
		t.Fatalf("error record = %v, want rewrite failed / delete_page", errRecs[0])
	}
}

func TestNewLogger_DebugFilteredAtInfoLevel(t *testing.T) {
	t.Parallel()

	var out, errOut bytes.Buffer
	logger := NewLogger(slog.LevelInfo, &out, &errOut)

	logger.Debug("cache probe")
	if out.Len() != 0 {
		t.Fatalf("debug record emitted at info level: %s", out.String())
	}

	logger = NewLogger(slog.LevelDebug, &out, &errOut)
	logger.Debug("cache probe")
	if out.Len() == 0 {
		t.Fatal("debug record missing at debug level")
	}
}

func TestNewLogger_WithAttrsAndGroupFollowTheSplit(t *testing.T) {
	t.Parallel()

	var out, errOut bytes.Buffer
	logger := NewLogger(slog.LevelInfo, &out, &errOut).
		With("component", "dispatcher").
		WithGroup("archive")

	logger.Info("routed", "path", "/lib/a.cbz")
	logger.Error("evicted", "path", "/lib/b.cbz")

	outRecs := decodeLogLines(t, &out)
	if len(outRecs) != 1 || outRecs[0]["component"] != "dispatcher" {
		t.Fatalf("primary record = %v, want component=dispatcher", outRecs)
	}

	errRecs := decodeLogLines(t, &errOut)
	if len(errRecs) != 1 || errRecs[0]["component"] != "dispatcher" {
		t.Fatalf("error record = %v, want component=dispatcher", errRecs)
	}
	group, ok := errRecs[0]["archive"].(map[string]any)
	if !ok || group["path"] != "/lib/b.cbz" {
		t.Fatalf("error record group = %v, want archive.path=/lib/b.cbz", errRecs[0])
	}
}

func TestNewLoggerFromConfig_DevEnablesDebug(t *testing.T) {
	t.Parallel()

	dev := NewLoggerFromConfig(Config{Dev: true})
	if !dev.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("dev config logger should enable DEBUG")
	}

	release := NewLoggerFromConfig(Config{})
	if release.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("release config logger should not enable DEBUG")
	}
}

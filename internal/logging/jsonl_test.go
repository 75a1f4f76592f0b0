package logging

import (
	"bufio"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func readRecords(t *testing.T, dir string) (files int, records []jsonlRecord) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".jsonl") {
			t.Fatalf("unexpected log file %q", entry.Name())
		}
		files++
		f, err := os.Open(filepath.Join(dir, entry.Name()))
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			var rec jsonlRecord
			if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
				t.Fatalf("invalid JSONL line %q: %v", scanner.Text(), err)
			}
			records = append(records, rec)
		}
		_ = f.Close()
	}
	return files, records
}

func TestDefaultLogDirPathSuffix(t *testing.T) {
	path, err := DefaultLogDirPath()
	if err != nil {
		t.Fatalf("DefaultLogDirPath() error = %v", err)
	}
	if want := filepath.Join("social-realtime", "logs"); !strings.HasSuffix(path, want) {
		t.Fatalf("DefaultLogDirPath() = %q, want suffix %q", path, want)
	}
}

func TestJSONLSink_SplitsIntoParts(t *testing.T) {
	dir := t.TempDir()
	sink, err := newJSONLSink(dir, 180)
	if err != nil {
		t.Fatalf("newJSONLSink() error = %v", err)
	}
	event := Event{
		Time:    time.Unix(1700000000, 0),
		Level:   slog.LevelDebug,
		Message: "chat frame received",
		Fields: map[string]any{
			"channel": "chat",
			"topic":   "/user/queue/messages",
			"error":   errors.New("stale subscription"),
		},
	}
	for range 6 {
		if err := sink.Write(event); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := sink.Write(event); !errors.Is(err, os.ErrClosed) {
		t.Fatalf("Write() after Close error = %v, want os.ErrClosed", err)
	}

	files, records := readRecords(t, dir)
	if files < 2 {
		t.Fatalf("parts = %d, want at least 2", files)
	}
	if len(records) != 6 {
		t.Fatalf("records = %d, want 6", len(records))
	}
	if got := records[0].Fields["error"]; got != "stale subscription" {
		t.Fatalf("error field = %v, want rendered message", got)
	}
	if records[0].Level != "DEBUG" {
		t.Fatalf("level = %q, want DEBUG", records[0].Level)
	}
}

func TestLogger_FilePersistenceCapturesHiddenDebugUntilClose(t *testing.T) {
	dir := t.TempDir()
	logger := New(false)
	logger.SetTerminalOutputEnabled(false)
	if err := logger.EnableFilePersistence(dir); err != nil {
		t.Fatalf("EnableFilePersistence() error = %v", err)
	}

	logger.Debug("resubscribed", Field("topic", "/topic/feed"))
	logger.Info("before close")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	logger.Info("after close")

	_, records := readRecords(t, dir)
	var messages []string
	for _, rec := range records {
		messages = append(messages, rec.Message)
	}
	if got := strings.Join(messages, ","); got != "resubscribed,before close" {
		t.Fatalf("persisted messages = %q", got)
	}
}

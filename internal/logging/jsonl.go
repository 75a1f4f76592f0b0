package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const defaultPartBytes = 5 << 20

func DefaultLogDirPath() (string, error) {
	root, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, "social-realtime", "logs"), nil
}

type jsonlRecord struct {
	Time    string         `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// jsonlSink appends one JSON object per event to realtime-<start>-NNN.jsonl
// files, moving to the next part once the current one reaches limit bytes.
type jsonlSink struct {
	mu      sync.Mutex
	dir     string
	prefix  string
	limit   int64
	part    int
	f       *os.File
	written int64
	closed  bool
}

func newJSONLSink(dir string, limit int64) (*jsonlSink, error) {
	if dir == "" {
		var err error
		if dir, err = DefaultLogDirPath(); err != nil {
			return nil, err
		}
	}
	if limit <= 0 {
		limit = defaultPartBytes
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	s := &jsonlSink{
		dir:    dir,
		prefix: "realtime-" + time.Now().UTC().Format("20060102-150405"),
		limit:  limit,
	}
	if err := s.nextPart(); err != nil {
		return nil, err
	}
	return s, nil
}

func encodeRecord(event Event) ([]byte, error) {
	rec := jsonlRecord{
		Time:    event.Time.UTC().Format(time.RFC3339Nano),
		Level:   strings.ToUpper(event.Level.String()),
		Message: event.Message,
	}
	if len(event.Fields) > 0 {
		rec.Fields = make(map[string]any, len(event.Fields))
		for k, v := range event.Fields {
			rec.Fields[k] = plainValue(v)
		}
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	return append(line, '\n'), nil
}

func (s *jsonlSink) Write(event Event) error {
	line, err := encodeRecord(event)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return os.ErrClosed
	}
	if s.f == nil || (s.written > 0 && s.written+int64(len(line)) > s.limit) {
		if err := s.nextPart(); err != nil {
			return err
		}
	}
	n, err := s.f.Write(line)
	s.written += int64(n)
	return err
}

// nextPart closes the current file and opens the following one. Callers hold
// s.mu, except newJSONLSink before the sink is shared.
func (s *jsonlSink) nextPart() error {
	if s.f != nil {
		_ = s.f.Close()
		s.f = nil
	}
	s.part++
	path := filepath.Join(s.dir, fmt.Sprintf("%s-%03d.jsonl", s.prefix, s.part))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	s.f = f
	s.written = info.Size()
	return nil
}

func (s *jsonlSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

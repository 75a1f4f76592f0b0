package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"

	"social-realtime/internal/logging"
)

type tokenFile struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// FileStore keeps the token pair in a JSON file so it survives restarts. Every
// Get re-reads the file; writes are serialized across processes with a lock
// file next to it.
type FileStore struct {
	path   string
	lock   *flock.Flock
	logger *logging.Logger
}

func DefaultPath() (string, error) {
	root, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, "social-realtime", "tokens.json"), nil
}

func NewFileStore(path string, logger *logging.Logger) (*FileStore, error) {
	if logger == nil {
		panic("tokenstore.NewFileStore: logger must not be nil")
	}
	if path == "" {
		defaultPath, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create token directory: %w", err)
	}
	return &FileStore{path: path, lock: flock.New(path + ".lock"), logger: logger}, nil
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Get(kind Kind) (string, error) {
	if err := validKind(kind); err != nil {
		return "", err
	}
	tokens, err := s.read()
	if err != nil {
		return "", err
	}
	if kind == Access {
		return tokens.AccessToken, nil
	}
	return tokens.RefreshToken, nil
}

func (s *FileStore) Set(kind Kind, value string) error {
	if err := validKind(kind); err != nil {
		return err
	}
	return s.update(func(tokens *tokenFile) {
		if kind == Access {
			tokens.AccessToken = value
		} else {
			tokens.RefreshToken = value
		}
	})
}

func (s *FileStore) Remove(kind Kind) error {
	return s.Set(kind, "")
}

func (s *FileStore) read() (tokenFile, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return tokenFile{}, nil
	}
	if err != nil {
		return tokenFile{}, err
	}
	if len(data) == 0 {
		return tokenFile{}, nil
	}
	var tokens tokenFile
	if err := json.Unmarshal(data, &tokens); err != nil {
		return tokenFile{}, fmt.Errorf("decode token file: %w", err)
	}
	return tokens, nil
}

func (s *FileStore) update(mutate func(*tokenFile)) error {
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock token file: %w", err)
	}
	defer func() {
		_ = s.lock.Unlock()
	}()

	tokens, err := s.read()
	if err != nil {
		s.logger.Warn("discarding unreadable token file", logging.Field("path", s.path), logging.Field("error", err))
		tokens = tokenFile{}
	}
	mutate(&tokens)

	payload, err := json.MarshalIndent(tokens, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Watch calls onChange whenever the token file is written, replaced or
// removed, including by other processes. It blocks until ctx is done.
func (s *FileStore) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to initialize fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch token directory: %w", err)
	}
	target := filepath.Clean(s.path)
	s.logger.Debug("watching token file", logging.Field("path", target))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			s.logger.Debugf("token file event: op=%s", event.Op.String())
			onChange()
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("token file watcher error", logging.Field("error", watchErr))
		}
	}
}

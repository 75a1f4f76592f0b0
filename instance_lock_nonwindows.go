//go:build !windows

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// instanceLock keeps a second client from driving the same token file.
type instanceLock struct {
	lock *flock.Flock
}

func (l *instanceLock) Release() error {
	if l == nil || l.lock == nil || !l.lock.Locked() {
		return nil
	}
	if err := l.lock.Unlock(); err != nil {
		return fmt.Errorf("unlock instance lock: %w", err)
	}
	_ = os.Remove(l.lock.Path())
	return nil
}

func acquireInstanceLock(tokenFile string) (*instanceLock, bool, error) {
	tokenPath, err := resolveTokenPath(tokenFile)
	if err != nil {
		return nil, false, err
	}
	lockPath := tokenPath + ".instance"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, false, fmt.Errorf("create lock directory: %w", err)
	}
	f := flock.New(lockPath)
	locked, err := f.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("acquire instance lock: %w", err)
	}
	if !locked {
		return nil, true, nil
	}
	return &instanceLock{lock: f}, false, nil
}

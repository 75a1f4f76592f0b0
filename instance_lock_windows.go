//go:build windows

package main

import (
	"fmt"
	"hash/fnv"
	"strings"

	"golang.org/x/sys/windows"
)

const instanceMutexPrefix = `Local\SocialRealtime-`

// instanceLock keeps a second client from driving the same token file.
type instanceLock struct {
	handle windows.Handle
}

func (l *instanceLock) Release() error {
	if l == nil || l.handle == 0 {
		return nil
	}
	err := windows.CloseHandle(l.handle)
	l.handle = 0
	if err != nil {
		return fmt.Errorf("close instance mutex handle: %w", err)
	}
	return nil
}

func acquireInstanceLock(tokenFile string) (*instanceLock, bool, error) {
	tokenPath, err := resolveTokenPath(tokenFile)
	if err != nil {
		return nil, false, err
	}
	name, err := windows.UTF16PtrFromString(instanceMutexName(tokenPath))
	if err != nil {
		return nil, false, fmt.Errorf("encode mutex name: %w", err)
	}
	handle, err := windows.CreateMutex(nil, false, name)
	if err != nil {
		return nil, false, fmt.Errorf("create instance mutex: %w", err)
	}
	if windows.GetLastError() == windows.ERROR_ALREADY_EXISTS {
		_ = windows.CloseHandle(handle)
		return nil, true, nil
	}
	return &instanceLock{handle: handle}, false, nil
}

// Mutex names cannot carry a path, so the token path is hashed.
func instanceMutexName(tokenPath string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.ToLower(tokenPath)))
	return fmt.Sprintf("%s%016x", instanceMutexPrefix, h.Sum64())
}

package main

import (
	"path/filepath"
	"strings"

	"social-realtime/internal/tokenstore"
)

func resolveTokenPath(tokenFile string) (string, error) {
	if strings.TrimSpace(tokenFile) == "" {
		return tokenstore.DefaultPath()
	}
	return filepath.Abs(tokenFile)
}

// Package pathutil resolves user-supplied filesystem paths.
package pathutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Expand resolves environment variables and "~/" home shortcuts. Empty
// input stays empty.
func Expand(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}

	expanded := os.ExpandEnv(trimmed)
	if expanded == "~" || strings.HasPrefix(expanded, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		if expanded == "~" {
			expanded = home
		} else {
			expanded = filepath.Join(home, strings.TrimPrefix(expanded, "~/"))
		}
	}

	return filepath.Clean(expanded), nil
}

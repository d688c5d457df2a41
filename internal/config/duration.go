package config

import (
	"fmt"
	"strings"
	"time"
)

// DurationOrDefault parses value as a duration, falling back to
// defaultValue when value is blank. A non-blank value that does not
// parse is an error, never silently replaced.
func DurationOrDefault(value, defaultValue string) (time.Duration, error) {
	for _, candidate := range []string{value, defaultValue} {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		d, err := time.ParseDuration(candidate)
		if err != nil {
			return 0, fmt.Errorf("parse duration %q: %w", candidate, err)
		}
		return d, nil
	}
	return 0, fmt.Errorf("duration value is empty")
}

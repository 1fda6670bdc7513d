package config

import (
	"fmt"
	"strings"
	"time"
)

// Duration-valued fields (telegram.poll_timeout, state.expiry_grace,
// audit.busy_timeout) are Go duration strings in the file. These helpers
// validate them with the field path in the error so a bad value names the
// offending key.

// ParseDurationField parses raw, treating empty as zero. Negative values
// are rejected.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault substitutes def when the field is empty or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

package config

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// ParseSize parses a human-readable size string ("20MB", "512KiB", "1048576")
// into bytes. SI suffixes are powers of 1000, IEC suffixes powers of 1024.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}

	if n > uint64(1<<62) {
		return 0, fmt.Errorf("size %q is too large", s)
	}

	return int64(n), nil
}

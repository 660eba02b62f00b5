package store

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var ErrConflict = errors.New("conflict")

func nullableID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

var seqToken = regexp.MustCompile(`\{seq(?::(\d+))?\}`)

// buildRegNo expands a registration number template such as
// "QE-{year}-{seq:05}".
func buildRegNo(format, fallback string, year int, seq int64) string {
	if strings.TrimSpace(format) == "" {
		format = fallback
	}
	out := strings.ReplaceAll(format, "{year}", fmt.Sprintf("%d", year))
	out = seqToken.ReplaceAllStringFunc(out, func(token string) string {
		m := seqToken.FindStringSubmatch(token)
		if len(m) == 2 && m[1] != "" {
			width := 0
			_, _ = fmt.Sscanf(m[1], "%d", &width)
			if width > 0 {
				return fmt.Sprintf("%0*d", width, seq)
			}
		}
		return fmt.Sprintf("%d", seq)
	})
	return out
}

package numbering

import (
	"context"
	"fmt"
	"time"
)

// Style selects where the sequence lands relative to the base number.
type Style string

const (
	StylePrefix Style = "prefix"
	StyleSuffix Style = "suffix"
)

const DefaultMaxAttempts = 100

// Format renders a recurring invoice number from its base and sequence.
// The sequence is zero-padded to three digits; larger sequences keep all
// their digits.
func Format(base string, seq int, style Style) string {
	if style == StylePrefix {
		return fmt.Sprintf("%03d-%s", seq, base)
	}
	return fmt.Sprintf("%s-%03d", base, seq)
}

// Exists reports whether a candidate number is already taken.
type Exists func(ctx context.Context, number string) (bool, error)

// Unique probes for a free invoice number starting at startSeq, incrementing
// the sequence on collision. After maxAttempts collisions it falls back to a
// time-derived 6 digit suffix. The probe is only as consistent as the read
// it is given; the caller must hold a transaction with a unique constraint
// backstop if it needs a hard guarantee.
func Unique(ctx context.Context, base string, startSeq, maxAttempts int, style Style, now time.Time, exists Exists) (string, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if startSeq < 1 {
		startSeq = 1
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		candidate := Format(base, startSeq+attempt, style)
		taken, err := exists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}

	return fmt.Sprintf("%s-%06d", base, now.UnixNano()%1_000_000), nil
}

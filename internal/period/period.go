// Package period maps symbolic window tokens to concrete time ranges.
package period

import (
	"errors"
	"fmt"
	"time"
)

// Default is the window applied when a caller omits the period.
const Default = "30d"

// ErrInvalidPeriod is returned for tokens outside the supported set.
var ErrInvalidPeriod = errors.New("invalid period")

const day = 24 * time.Hour

var windows = map[string]time.Duration{
	"7d":  7 * day,
	"30d": 30 * day,
	"90d": 90 * day,
	"1y":  365 * day,
}

var tokens = []string{"7d", "30d", "90d", "1y"}

// Range is a half-open interval [Start, End).
type Range struct {
	Token string    `json:"period"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration returns End - Start.
func (r Range) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// Contains reports whether t falls inside the range.
func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// Resolve returns the range for token ending now.
func Resolve(token string) (Range, error) {
	return ResolveAt(token, time.Now())
}

// ResolveAt returns the range for token ending at now.
func ResolveAt(token string, now time.Time) (Range, error) {
	window, ok := windows[token]
	if !ok {
		return Range{}, fmt.Errorf("%w %q: expected one of 7d, 30d, 90d, 1y", ErrInvalidPeriod, token)
	}
	end := now.UTC()
	return Range{Token: token, Start: end.Add(-window), End: end}, nil
}

// Tokens lists the supported tokens from shortest to longest.
func Tokens() []string {
	out := make([]string, len(tokens))
	copy(out, tokens)
	return out
}

// Valid reports whether token is supported.
func Valid(token string) bool {
	_, ok := windows[token]
	return ok
}

package utils

import (
	"fmt"
	"time"
)

// ParseRFC3339 returns a time from the provided string or an error.
func ParseRFC3339(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time: %w", err)
	}
	return t, nil
}

// AgeDays reports how many whole days have elapsed since t.
func AgeDays(t time.Time, now time.Time) int {
	if t.After(now) {
		return 0
	}
	return int(now.Sub(t).Hours() / 24)
}

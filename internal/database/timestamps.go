package database

import "time"

// Timestamps are stored as BIGINT nanoseconds since the Unix epoch so every dialect
// round-trips them without precision loss or timezone drift.

// ToNanos converts t to its stored form.
func ToNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

// FromNanos converts a stored value back to a UTC time.
func FromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// NullableNanos converts an optional time to a driver value.
func NullableNanos(t *time.Time) any {
	if t == nil {
		return nil
	}
	return ToNanos(*t)
}

// FromNullableNanos converts an optional stored value.
func FromNullableNanos(n *int64) *time.Time {
	if n == nil {
		return nil
	}
	t := FromNanos(*n)
	return &t
}

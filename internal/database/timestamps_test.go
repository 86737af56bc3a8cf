package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNanosRoundTrip(t *testing.T) {
	local := time.Date(2026, 5, 4, 12, 30, 15, 123456789, time.FixedZone("BRT", -3*3600))

	got := FromNanos(ToNanos(local))

	assert.True(t, local.Equal(got))
	assert.Equal(t, time.UTC, got.Location())
}

func TestNullableNanos(t *testing.T) {
	assert.Nil(t, NullableNanos(nil))
	assert.Nil(t, FromNullableNanos(nil))

	now := time.Now()
	v := NullableNanos(&now)
	n, ok := v.(int64)
	assert.True(t, ok)
	assert.True(t, now.Equal(*FromNullableNanos(&n)))
}

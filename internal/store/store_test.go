package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDayBounds(t *testing.T) {
	loc := time.FixedZone("ICT", 7*3600)
	start, end := DayBounds(time.Date(2026, 5, 10, 17, 45, 0, 0, loc))

	assert.Equal(t, time.Date(2026, 5, 10, 0, 0, 0, 0, loc), start)
	assert.Equal(t, time.Date(2026, 5, 11, 0, 0, 0, 0, loc), end)
}

func TestPageNormalize(t *testing.T) {
	assert.Equal(t, Page{Skip: 0, Limit: DefaultLimit}, Page{}.Normalize())
	assert.Equal(t, Page{Skip: 0, Limit: 5}, Page{Skip: -3, Limit: 5}.Normalize())
	assert.Equal(t, Page{Skip: 20, Limit: MaxLimit}, Page{Skip: 20, Limit: 1000}.Normalize())
}

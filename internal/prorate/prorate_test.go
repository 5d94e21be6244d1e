package prorate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeMidMonth(t *testing.T) {
	// 30-day month, billing starts on the 20th: 11 days remain.
	start := time.Date(2024, time.April, 20, 0, 0, 0, 0, time.UTC)

	got := Compute(200_000, 11, start)

	assert.Equal(t, 11, got.DaysInPeriod)
	assert.Equal(t, int64(73_333), got.BaseAmount)
	assert.Equal(t, int64(8_067), got.TaxAmount)
	assert.Equal(t, int64(81_400), got.TotalAmount)
}

func TestComputeFirstDayEqualsFullMonth(t *testing.T) {
	start := time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC)

	got := Compute(200_000, 11, start)

	assert.Equal(t, 30, got.DaysInPeriod)
	assert.Equal(t, int64(200_000), got.BaseAmount)
	assert.Equal(t, FullPrice(200_000, 11), got.TotalAmount)
}

func TestComputeLastDayOfMonth(t *testing.T) {
	start := time.Date(2024, time.January, 31, 0, 0, 0, 0, time.UTC)

	got := Compute(310_000, 10, start)

	assert.Equal(t, 1, got.DaysInPeriod)
	assert.Equal(t, int64(10_000), got.BaseAmount)
	assert.Equal(t, int64(1_000), got.TaxAmount)
	assert.Equal(t, int64(11_000), got.TotalAmount)
}

func TestComputeFebruaryLeapYear(t *testing.T) {
	start := time.Date(2024, time.February, 15, 0, 0, 0, 0, time.UTC)

	got := Compute(290_000, 0, start)

	assert.Equal(t, 15, got.DaysInPeriod)
	// 290000/29 * 15
	assert.Equal(t, int64(150_000), got.BaseAmount)
	assert.Equal(t, got.BaseAmount, got.TotalAmount)
}

func TestComputeDeterministic(t *testing.T) {
	start := time.Date(2025, time.July, 9, 0, 0, 0, 0, time.UTC)

	first := Compute(123_457, 11.5, start)
	for i := 0; i < 1000; i++ {
		require.Equal(t, first, Compute(123_457, 11.5, start))
	}
}

func TestFullPrice(t *testing.T) {
	assert.Equal(t, int64(222_000), FullPrice(200_000, 11))
	assert.Equal(t, int64(100_000), FullPrice(100_000, 0))
}

// Package prorate computes partial-period pricing. The arithmetic is pure and
// bit-for-bit reproducible; dispute audits replay it against stored inputs.
package prorate

import (
	"math"
	"time"
)

// Result is the breakdown of a prorated first-period charge.
type Result struct {
	BaseAmount   int64
	TaxAmount    int64
	TotalAmount  int64
	DaysInPeriod int
}

// Compute prices the remainder of start's month at basePrice per month,
// applying taxPercent with round-half-up on the tax line.
func Compute(basePrice int64, taxPercent float64, start time.Time) Result {
	daysInMonth := daysIn(start)
	remaining := daysInMonth - start.Day() + 1
	if remaining < 0 {
		remaining = 0
	}

	perDay := float64(basePrice) / float64(daysInMonth)
	base := roundHalfUp(perDay * float64(remaining))
	tax := roundHalfUp(float64(base) * taxPercent / 100)

	return Result{
		BaseAmount:   base,
		TaxAmount:    tax,
		TotalAmount:  base + tax,
		DaysInPeriod: remaining,
	}
}

// FullPrice returns the standard full-month total (base plus tax) for a
// package, with the same tax rounding as Compute.
func FullPrice(basePrice int64, taxPercent float64) int64 {
	tax := roundHalfUp(float64(basePrice) * taxPercent / 100)
	return basePrice + tax
}

func daysIn(t time.Time) int {
	firstOfNext := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).AddDate(0, 1, 0)
	return firstOfNext.AddDate(0, 0, -1).Day()
}

func roundHalfUp(raw float64) int64 {
	return int64(math.Floor(raw + 0.5))
}

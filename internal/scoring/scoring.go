// Package scoring computes points for quiz answers.
package scoring

import (
	"math/bits"
	"time"
)

const (
	// MaxPoints is awarded to the first correct answer of a question.
	MaxPoints = 1000
	// BasePoints is the floor for any later correct answer.
	BasePoints = 500
)

// Points returns the award for a correct answer. The first correct answer of
// a question earns MaxPoints; later ones earn
// floor(BasePoints + remaining/limit*(MaxPoints-BasePoints)), which decays
// linearly with elapsed time. remaining is clamped to [0, limit].
func Points(firstCorrect bool, remaining, limit time.Duration) int {
	if firstCorrect {
		return MaxPoints
	}
	if limit <= 0 {
		return BasePoints
	}
	remaining = clamp(remaining, limit)
	// hi < limit because remaining <= limit, so Div64 cannot panic.
	hi, lo := bits.Mul64(uint64(remaining), MaxPoints-BasePoints)
	bonus, _ := bits.Div64(hi, lo, uint64(limit))
	return BasePoints + int(bonus)
}

// Remaining returns how much of limit is left at now for a question that
// started at start, clamped to [0, limit].
func Remaining(start, now time.Time, limit time.Duration) time.Duration {
	return clamp(limit-now.Sub(start), limit)
}

func clamp(d, limit time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if d > limit {
		return limit
	}
	return d
}

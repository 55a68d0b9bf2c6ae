package fetch

import (
	"runtime"
)

const (
	// MinConcurrency is the lower bound for the concurrency cap
	MinConcurrency = 1

	// MaxConcurrency is the upper bound for the concurrency cap.
	// Kept low to avoid overwhelming the remote API's rate limiter.
	MaxConcurrency = 15
)

// OptimalConcurrency derives a concurrency cap from available resources,
// clamped to [MinConcurrency, MaxConcurrency]. A non-zero ceiling further
// bounds the result.
func OptimalConcurrency(ceiling int) int {
	// Two in-flight requests per core is plenty for I/O-bound work
	n := runtime.NumCPU() * 2

	if n > MaxConcurrency {
		n = MaxConcurrency
	}
	if n < MinConcurrency {
		n = MinConcurrency
	}
	if ceiling > 0 && n > ceiling {
		n = ceiling
	}
	return n
}

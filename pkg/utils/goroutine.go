// Package utils holds test support shared across packages.
package utils

import (
	"runtime"
	"testing"
	"time"
)

// GoroutineLeakDetector checks that a test leaves no background goroutines
// behind, which is how the shutdown bound on transports is verified.
type GoroutineLeakDetector struct {
	t              *testing.T
	initialCount   int
	allowedGrowth  int
	stabilizeDelay time.Duration
}

// NewGoroutineLeakDetector creates a detector with default settings.
func NewGoroutineLeakDetector(t *testing.T) *GoroutineLeakDetector {
	return &GoroutineLeakDetector{
		t:              t,
		stabilizeDelay: 200 * time.Millisecond,
	}
}

// SetAllowedGrowth permits n goroutines to remain after the check.
func (d *GoroutineLeakDetector) SetAllowedGrowth(n int) *GoroutineLeakDetector {
	d.allowedGrowth = n
	return d
}

// Start records the baseline goroutine count.
func (d *GoroutineLeakDetector) Start() {
	time.Sleep(d.stabilizeDelay)
	d.initialCount = runtime.NumGoroutine()
}

// Check fails the test if the goroutine count grew beyond the allowance.
// It samples a few times because goroutines may still be in cleanup.
func (d *GoroutineLeakDetector) Check() {
	time.Sleep(d.stabilizeDelay)

	final := runtime.NumGoroutine()
	for i := 0; i < 3 && final > d.initialCount+d.allowedGrowth; i++ {
		time.Sleep(100 * time.Millisecond)
		final = runtime.NumGoroutine()
	}

	leaked := final - d.initialCount
	if leaked > d.allowedGrowth {
		buf := make([]byte, 1<<20)
		n := runtime.Stack(buf, true)
		d.t.Errorf("goroutine leak detected: started with %d, ended with %d\n%s",
			d.initialCount, final, buf[:n])
	}
}

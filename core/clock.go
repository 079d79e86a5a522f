package core

import (
	"math/rand"
	"time"
)

// Clock abstracts time so components (heartbeat sweeps, breaker timers,
// retry backoff, approval token expiry) can be driven deterministically in
// tests instead of depending on wall-clock time directly.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	Sleep(d time.Duration)
}

// SystemClock is the production Clock backed by the time package.
type SystemClock struct{}

func (SystemClock) Now() time.Time                  { return time.Now() }
func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (SystemClock) Sleep(d time.Duration)           { time.Sleep(d) }

// RNG abstracts randomness so jittered retry delays and load-balancer
// tie-breaking are reproducible under test.
type RNG interface {
	Float64() float64
	Intn(n int) int
}

// SystemRNG is the production RNG backed by math/rand.
type SystemRNG struct{}

func (SystemRNG) Float64() float64 { return rand.Float64() }
func (SystemRNG) Intn(n int) int   { return rand.Intn(n) }

// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

// Package clock abstracts wall-clock access so expiry and age checks are
// deterministic in tests.
//
// # Usage
//
// Every component that compares against "now" (token expiry, lockout
// windows, password age) receives a [Clock] through its constructor.
// Production wiring passes [System]; tests pass a [*Fake] and advance it.
package clock

import (
	"sync"
	"time"
)

// Clock supplies the current instant.
type Clock interface {
	Now() time.Time
}

// # System Clock

type systemClock struct{}

// Now returns the real current time in UTC.
func (systemClock) Now() time.Time { return time.Now().UTC() }

// System is the production clock.
var System Clock = systemClock{}

// # Fake Clock

// Fake is a manually advanced clock for tests.
//
// # Concurrency
//
// Safe for concurrent use: tests may advance the clock while handlers
// under test read it.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake creates a fake clock frozen at the given instant.
func NewFake(now time.Time) *Fake {
	return &Fake{now: now.UTC()}
}

// Now returns the frozen instant.
func (fake *Fake) Now() time.Time {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	return fake.now
}

// Advance moves the clock forward by the given duration.
func (fake *Fake) Advance(duration time.Duration) {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	fake.now = fake.now.Add(duration)
}

// Set jumps the clock to an absolute instant.
func (fake *Fake) Set(now time.Time) {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	fake.now = now.UTC()
}

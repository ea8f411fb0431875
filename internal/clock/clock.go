// Package clock lets components take time from an injected source.
package clock

import (
	"sync"
	"time"
)

// Clock abstracts time operations for testability.
type Clock interface {
	Now() time.Time
}

// Real is a Clock backed by the system clock.
type Real struct{}

// Now returns the current time.
func (Real) Now() time.Time { return time.Now() }

// Mock is a Clock that always returns a fixed time.
type Mock struct {
	T time.Time
}

// Now returns the fixed time.
func (m Mock) Now() time.Time { return m.T }

// Step is a Clock that starts at a fixed time and moves forward by a fixed
// step on every call, so successive readings are strictly ordered.
type Step struct {
	mu   sync.Mutex
	next time.Time
	step time.Duration
}

// NewStep returns a Step clock whose first reading is start.
func NewStep(start time.Time, step time.Duration) *Step {
	return &Step{next: start, step: step}
}

// Now returns the current reading and advances the clock.
func (s *Step) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.next
	s.next = s.next.Add(s.step)
	return t
}

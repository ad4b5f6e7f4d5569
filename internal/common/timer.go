// Package common provides timing helpers shared by the pipeline stages.
package common

import (
	"fmt"
	"sync"
	"time"
)

// Timer measures one named interval.
type Timer struct {
	start    time.Time
	name     string
	duration time.Duration
}

// NewTimer creates and starts an unnamed timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// NewNamedTimer creates and starts a timer with the given name.
func NewNamedTimer(name string) *Timer {
	return &Timer{name: name, start: time.Now()}
}

// Stop stops the timer and returns the elapsed duration.
func (t *Timer) Stop() time.Duration {
	t.duration = time.Since(t.start)
	return t.duration
}

// Duration returns the recorded duration (only valid after Stop).
func (t *Timer) Duration() time.Duration {
	return t.duration
}

// Name returns the timer name.
func (t *Timer) Name() string {
	return t.name
}

func (t *Timer) String() string {
	if t.name != "" {
		return fmt.Sprintf("%s: %v", t.name, t.duration)
	}
	return t.duration.String()
}

// Timings collects stage durations in milliseconds.
type Timings struct {
	mu     sync.Mutex
	stages map[string]float64
}

// NewTimings creates an empty collection.
func NewTimings() *Timings {
	return &Timings{stages: make(map[string]float64)}
}

// Start begins timing stage; calling the returned func records it.
// Repeated stages accumulate.
func (ts *Timings) Start(stage string) func() {
	t := NewNamedTimer(stage)
	return func() { ts.Add(stage, t.Stop()) }
}

// Add records d for stage.
func (ts *Timings) Add(stage string, d time.Duration) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.stages[stage] += float64(d.Microseconds()) / 1000
}

// Millis returns a copy of the recorded durations.
func (ts *Timings) Millis() map[string]float64 {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	out := make(map[string]float64, len(ts.stages))
	for k, v := range ts.stages {
		out[k] = v
	}
	return out
}

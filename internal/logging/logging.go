// Package logging holds the warning hook shared by the simulation packages.
package logging

import (
	"fmt"
	"sync"
)

// WarnFunc receives non-fatal problems: configuration that was corrected or ignored,
// and data that could not be fully processed.
type WarnFunc func(format string, args ...interface{})

// Stdout prints warnings the way the command-line tool reports them.
func Stdout(format string, args ...interface{}) {
	fmt.Printf("Warning: "+format+"\n", args...)
}

// Discard drops warnings.
func Discard(string, ...interface{}) {}

// Recorder collects warnings in memory, mostly for tests.
type Recorder struct {
	mu       sync.Mutex
	Messages []string
}

// Warn implements WarnFunc.
func (r *Recorder) Warn(format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Messages = append(r.Messages, fmt.Sprintf(format, args...))
}

// Len returns the number of recorded warnings.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Messages)
}

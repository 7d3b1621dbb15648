package transport

import "sync"

// Location tracks the console route the operator is on. Navigating to the
// current route is a no-op.
type Location struct {
	mu      sync.Mutex
	current string
	visits  uint64
}

// NewLocation starts at path.
func NewLocation(path string) *Location {
	return &Location{current: path}
}

// Navigate moves to path and reports whether the location changed.
func (l *Location) Navigate(path string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == path {
		return false
	}
	l.current = path
	l.visits++
	return true
}

// Current returns the current route.
func (l *Location) Current() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Visits counts effective navigations.
func (l *Location) Visits() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.visits
}

var _ Navigator = (*Location)(nil)

package lifecycle

import "sync"

// Tracker records the scans created during one package scan so they can be
// removed together when that scan fails.
type Tracker struct {
	mu    sync.Mutex
	codes []string
}

// Add registers a created scan code.
func (t *Tracker) Add(code string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.codes = append(t.codes, code)
}

// Codes returns the created scan codes in creation order.
func (t *Tracker) Codes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.codes...)
}

// Len returns the number of created scans.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.codes)
}

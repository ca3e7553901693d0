package verbs

import "sync"

// simCQ is a FIFO completion queue backed by a slice under a mutex. depth
// is advisory only (the sim never rejects a push for exceeding it; a real
// CQ would overrun and this provider has no hardware to overrun).
type simCQ struct {
	depth int

	mu      sync.Mutex
	entries []Completion
}

func (c *simCQ) push(comp Completion) {
	c.mu.Lock()
	c.entries = append(c.entries, comp)
	c.mu.Unlock()
}

func (c *simCQ) Poll(out []Completion) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := copy(out, c.entries)
	c.entries = c.entries[n:]
	return n, nil
}

func (c *simCQ) Destroy() error { return nil }

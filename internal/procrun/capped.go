package procrun

import (
	"bytes"
	"sync"
)

// capped keeps the first limit bytes and silently drops the rest, so a
// chatty command never blocks on a full pipe or exhausts memory.
type capped struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func newCapped(limit int) *capped { return &capped{limit: limit} }

func (c *capped) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(p)
	if c.limit > 0 {
		room := c.limit - c.buf.Len()
		if room <= 0 {
			return n, nil
		}
		if len(p) > room {
			p = p[:room]
		}
	}
	c.buf.Write(p)
	return n, nil
}

func (c *capped) Bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.buf.Bytes()...)
}

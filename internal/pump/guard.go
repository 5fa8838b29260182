package pump

import "sync"

// InflightGuard tracks which project/connector pairs have a tick in flight.
// An overlapping tick is skipped, never queued, which bounds worst-case
// latency amplification under slow endpoints.
type InflightGuard struct {
	mu       sync.Mutex
	inflight map[string]bool
}

// NewInflightGuard creates an empty guard.
func NewInflightGuard() *InflightGuard {
	return &InflightGuard{inflight: make(map[string]bool)}
}

// TryAcquire marks the key as in flight. Returns false if it already was.
func (g *InflightGuard) TryAcquire(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inflight[key] {
		return false
	}
	g.inflight[key] = true
	return true
}

// Release clears the key.
func (g *InflightGuard) Release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inflight, key)
}

package metrics

import "sync"

// Event names counted by the signaling server.
const (
	Connections       = "connections"
	Joins             = "joins"
	JoinsRejected     = "joins_rejected"
	Leaves            = "leaves"
	Relayed           = "relayed"
	RelayDropped      = "relay_dropped"
	RelayRejected     = "relay_rejected"
	RateLimited       = "rate_limited"
	MalformedMessages = "malformed_messages"
)

// Metrics is a concurrency-safe counter registry. A nil *Metrics discards
// everything so components can run without one.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

func (m *Metrics) Snapshot() map[string]uint64 {
	out := make(map[string]uint64)
	if m == nil {
		return out
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.m {
		out[k] = v
	}
	return out
}

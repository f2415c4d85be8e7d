package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Wyydra/duo/internal/core/domain"
	"github.com/Wyydra/duo/internal/core/port"
)

var (
	ErrClosed       = errors.New("memory: connectivity closed")
	ErrHaveOffer    = errors.New("memory: local offer outstanding")
	ErrNoLocalOffer = errors.New("memory: no local offer")
	ErrWrongKind    = errors.New("memory: wrong description kind")
)

// Connectivity is a deterministic connectivity engine. It follows the same
// offer/answer rules as a browser peer connection, which makes it strict
// enough to catch negotiation bugs in tests and dry runs.
type Connectivity struct {
	mu         sync.Mutex
	name       string
	seq        int
	localOffer *domain.SessionDescription
	remote     domain.SessionDescription
	tracks     []string
	onChange   func()
	closed     bool
	rollbacks  int
}

func NewConnectivity(name string) *Connectivity {
	return &Connectivity{name: name}
}

func (c *Connectivity) CreateOffer(ctx context.Context) (domain.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.SessionDescription{}, ErrClosed
	}
	c.seq++
	offer := domain.NewOffer(fmt.Sprintf("%s-offer-%d tracks=%d", c.name, c.seq, len(c.tracks)))
	c.localOffer = &offer
	return offer, nil
}

func (c *Connectivity) CreateAnswer(ctx context.Context, remote domain.SessionDescription) (domain.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.SessionDescription{}, ErrClosed
	}
	if remote.Kind != domain.KindOffer {
		return domain.SessionDescription{}, fmt.Errorf("%w: %s", ErrWrongKind, remote.Kind)
	}
	if c.localOffer != nil {
		return domain.SessionDescription{}, ErrHaveOffer
	}
	c.seq++
	c.remote = remote
	return domain.NewAnswer(fmt.Sprintf("%s-answer-%d", c.name, c.seq)), nil
}

func (c *Connectivity) SetRemoteDescription(ctx context.Context, desc domain.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if desc.Kind != domain.KindAnswer {
		return fmt.Errorf("%w: %s", ErrWrongKind, desc.Kind)
	}
	if c.localOffer == nil {
		return ErrNoLocalOffer
	}
	c.localOffer = nil
	c.remote = desc
	return nil
}

func (c *Connectivity) Rollback(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.localOffer == nil {
		return ErrNoLocalOffer
	}
	c.localOffer = nil
	c.rollbacks++
	return nil
}

func (c *Connectivity) OnLocalMediaChanged(fn func()) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// AddTrack simulates a local track being added and fires the media change callback.
func (c *Connectivity) AddTrack(name string) {
	c.mu.Lock()
	c.tracks = append(c.tracks, name)
	fn := c.onChange
	c.mu.Unlock()

	if fn != nil {
		fn()
	}
}

func (c *Connectivity) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Connectivity) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// RemoteDescription returns the last remote description applied.
func (c *Connectivity) RemoteDescription() domain.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

func (c *Connectivity) HasLocalOffer() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localOffer != nil
}

func (c *Connectivity) Rollbacks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rollbacks
}

// Factory hands out named Connectivity instances and remembers them.
type Factory struct {
	mu      sync.Mutex
	name    string
	created []*Connectivity
}

func NewFactory(name string) *Factory {
	return &Factory{name: name}
}

func (f *Factory) NewConnectivity(ctx context.Context) (port.ConnectivityEngine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := NewConnectivity(fmt.Sprintf("%s#%d", f.name, len(f.created)+1))
	f.created = append(f.created, c)
	return c, nil
}

// Last returns the most recently created instance, or nil.
func (f *Factory) Last() *Connectivity {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.created) == 0 {
		return nil
	}
	return f.created[len(f.created)-1]
}

func (f *Factory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

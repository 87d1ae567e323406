// Package guard keeps a page's own rewrites from re-triggering the mutation
// observer that schedules them.
package guard

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// State is the guard's observation state.
type State uint8

const (
	Disabled State = iota
	Armed
)

func (s State) String() string {
	if s == Armed {
		return "armed"
	}
	return "disabled"
}

// Observer is a subscription to tree mutations.
type Observer interface {
	Observe() error
	Disconnect()
}

// Factory builds the observer, wiring handler to its mutation callback.
type Factory func(handler func()) (Observer, error)

// Option configures a Guard.
type Option func(*Guard)

// WithLogger sets the logger used to report rescan failures.
func WithLogger(l *slog.Logger) Option {
	return func(g *Guard) { g.logger = l }
}

// Guard owns one observer for one page context.
type Guard struct {
	factory Factory
	rescan  func() error
	logger  *slog.Logger

	mu       sync.Mutex
	observer Observer
	state    State
}

// New returns a disabled guard. The observer is created on the first Enable.
// On every mutation batch the guard runs rescan with observation suspended.
func New(factory Factory, rescan func() error, opts ...Option) *Guard {
	g := &Guard{factory: factory, rescan: rescan}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g
}

// State reports the current state.
func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Enable subscribes to mutations. Calling it while armed does nothing.
func (g *Guard) Enable() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == Armed {
		return nil
	}
	if g.observer == nil {
		o, err := g.factory(g.handle)
		if err != nil {
			return fmt.Errorf("guard: create observer: %w", err)
		}
		g.observer = o
	}
	if err := g.observer.Observe(); err != nil {
		return fmt.Errorf("guard: observe: %w", err)
	}
	g.state = Armed
	return nil
}

// Disable unsubscribes. Calling it while disabled does nothing.
func (g *Guard) Disable() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != Armed {
		return
	}
	g.observer.Disconnect()
	g.state = Disabled
}

// Without runs fn with observation suspended and puts the guard back into
// the state it was in before, whether fn returns normally, fails or panics.
func (g *Guard) Without(fn func() error) (err error) {
	prior := g.State()
	g.Disable()
	defer func() {
		if prior != Armed {
			return
		}
		if rerr := g.Enable(); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}()
	return fn()
}

func (g *Guard) handle() {
	if g.rescan == nil {
		return
	}
	if err := g.Without(g.rescan); err != nil {
		g.logger.Warn("guard: rescan failed", "err", err)
	}
}

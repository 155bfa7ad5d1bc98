package offlinecache

import (
	"context"
	"errors"
	"fmt"

	"github.com/sourcegraph/conc/iter"
)

// ErrInvalidState is returned by lifecycle operations called out of order.
var ErrInvalidState = errors.New("invalid worker state")

type State int

const (
	StateParsed State = iota
	StateActivating
	StateActivated
)

func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// State returns the current lifecycle state.
func (p *CacheProxy) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Install installs the worker and makes it the next active worker right away,
// without waiting for clients of a previous worker to go away.
func (p *CacheProxy) Install(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateParsed {
		return fmt.Errorf("%w: install in state %s", ErrInvalidState, p.state)
	}
	p.state = StateActivating
	p.log.Info().Msg("Installed, skipping wait")
	return nil
}

// Activate deletes every store but the runtime store and claims all clients.
// Store enumeration and deletion are best effort: failures are logged and never
// prevent the worker from taking control. Only a failed claim is returned.
func (p *CacheProxy) Activate(ctx context.Context) error {
	if state := p.State(); state != StateActivating {
		return fmt.Errorf("%w: activate in state %s", ErrInvalidState, state)
	}

	p.sweep(ctx)
	err := p.clients.Claim(ctx, p.id)

	p.mu.Lock()
	p.state = StateActivated
	p.mu.Unlock()

	if err != nil {
		p.log.Error().Err(err).Msg("Could not claim clients")
		return fmt.Errorf("claim clients: %w", err)
	}
	p.log.Info().Msg("Activated")
	return nil
}

func (p *CacheProxy) sweep(ctx context.Context) {
	names, err := p.storage.Keys(ctx)
	if err != nil {
		p.log.Warn().Err(err).Msg("Could not list stores, skipping cleanup")
		return
	}
	stale := make([]string, 0, len(names))
	for _, name := range names {
		if name != p.runtime {
			stale = append(stale, name)
		}
	}
	iter.ForEach(stale, func(name *string) {
		if _, err := p.storage.Delete(ctx, *name); err != nil {
			p.log.Warn().Err(err).Str("store", *name).Msg("Could not delete store")
			return
		}
		p.log.Debug().Str("store", *name).Msg("Deleted store")
	})
}

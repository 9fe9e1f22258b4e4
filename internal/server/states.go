package server

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/spotprune/internal/shared"
)

const (
	DefaultStateTTL      = 10 * time.Minute
	DefaultMaxStates     = 1024
	DefaultSweepInterval = time.Minute
)

// PendingStates holds the OAuth state tokens of logins that have not come back yet.
//
// Tokens expire after the TTL and are consumed at most once. The map never grows past its capacity.
type PendingStates struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
	max     int
	now     func() time.Time
	logger  *log.Logger

	stop chan struct{}
	done chan struct{}
}

// NewPendingStates creates an empty [PendingStates]. Non-positive arguments fall back to the defaults.
func NewPendingStates(ttl time.Duration, max int, logger *log.Logger) *PendingStates {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	if max <= 0 {
		max = DefaultMaxStates
	}
	return &PendingStates{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		max:     max,
		now:     time.Now,
		logger:  logger,
	}
}

// New generates a state token and inserts it.
func (p *PendingStates) New() (string, error) {
	state := shared.GenerateID()
	if err := p.Insert(state); err != nil {
		return "", err
	}
	return state, nil
}

// Insert registers state until the TTL passes. Expired entries are dropped first when the map is full.
func (p *PendingStates) Insert(state string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.entries) >= p.max {
		p.sweepLocked()
	}
	if len(p.entries) >= p.max {
		return fmt.Errorf("%w: too many pending logins", shared.ErrServiceUnavailable)
	}
	p.entries[state] = p.now().Add(p.ttl)
	return nil
}

// Consume removes state and reports whether it was pending and unexpired.
func (p *PendingStates) Consume(state string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	expires, ok := p.entries[state]
	if !ok {
		return false
	}
	delete(p.entries, state)
	return p.now().Before(expires)
}

// Sweep drops expired entries and returns how many were dropped.
func (p *PendingStates) Sweep() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sweepLocked()
}

func (p *PendingStates) sweepLocked() int {
	now := p.now()
	n := 0
	for state, expires := range p.entries {
		if !now.Before(expires) {
			delete(p.entries, state)
			n++
		}
	}
	return n
}

// Len returns the number of entries, expired ones included.
func (p *PendingStates) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Start sweeps every interval until [PendingStates.Stop]. Calling it twice does nothing.
func (p *PendingStates) Start(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	p.mu.Lock()
	if p.stop != nil {
		p.mu.Unlock()
		return
	}
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	stop, done := p.stop, p.done
	p.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if n := p.Sweep(); n > 0 {
					p.logger.Debug("dropped expired login states", "count", n)
				}
			}
		}
	}()
}

// Stop ends the sweeping started by [PendingStates.Start] and waits for it.
func (p *PendingStates) Stop() {
	p.mu.Lock()
	stop, done := p.stop, p.done
	p.stop, p.done = nil, nil
	p.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

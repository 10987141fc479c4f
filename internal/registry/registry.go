// Package registry caches the capability cards of configured remote agents
// and tracks their health. Entries live for the lifetime of the host
// process; re-discovery is explicit, never implicit on a routing decision.
package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ensembleai/ensemble/internal/a2a"
	"github.com/ensembleai/ensemble/internal/metrics"
	"github.com/ensembleai/ensemble/pkg/card"
)

// Health is the registry's view of one remote agent.
type Health string

const (
	HealthUnknown     Health = "unknown"
	HealthReachable   Health = "reachable"
	HealthUnreachable Health = "unreachable"
)

// Entry pairs a discovered card with its health bookkeeping. Entries
// returned from the registry are copies; the registry owns the originals.
type Entry struct {
	Address     string
	Card        *card.AgentCard
	Health      Health
	LastContact time.Time
	Order       int

	failures int
}

// CardFetcher retrieves a capability descriptor from a base address.
// *a2a.Client satisfies it; tests substitute fakes.
type CardFetcher interface {
	FetchCard(ctx context.Context, base string) (*card.AgentCard, error)
}

// Registry is shared, read-mostly, process-wide state. Reads take the
// read lock; health transitions and re-discovery take the write lock.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	order   []string

	fetcher          CardFetcher
	failureThreshold int
	probeTimeout     time.Duration
	metrics          *metrics.Collector
	logger           *logrus.Logger
}

// Option tweaks registry construction.
type Option func(*Registry)

// WithFailureThreshold sets the consecutive-failure count that flips a
// reachable entry to unreachable. The default is 1.
func WithFailureThreshold(n int) Option {
	return func(r *Registry) {
		if n >= 1 {
			r.failureThreshold = n
		}
	}
}

// WithProbeTimeout bounds each discovery probe.
func WithProbeTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.probeTimeout = d
		}
	}
}

// WithMetrics wires the Prometheus collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(r *Registry) { r.metrics = m }
}

func New(fetcher CardFetcher, logger *logrus.Logger, opts ...Option) *Registry {
	r := &Registry{
		entries:          make(map[string]*Entry),
		fetcher:          fetcher,
		failureThreshold: 1,
		probeTimeout:     10 * time.Second,
		logger:           logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds an address in unknown health. Registration order is
// stable and used as the router's final tie-break.
func (r *Registry) Register(address string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[address]; exists {
		return
	}
	r.entries[address] = &Entry{
		Address: address,
		Health:  HealthUnknown,
		Order:   len(r.order),
	}
	r.order = append(r.order, address)
	r.logger.Infof("Registered remote agent address %s", address)
}

// Discover probes an address, replaces its card wholesale on success and
// applies the health transition rules. The address is registered if it
// was not already.
func (r *Registry) Discover(ctx context.Context, address string) (*card.AgentCard, error) {
	r.Register(address)

	probeCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	c, err := r.fetcher.FetchCard(probeCtx, address)

	r.mu.Lock()
	defer r.mu.Unlock()

	entry := r.entries[address]
	if err != nil {
		entry.failures++
		kind := Unreachable
		var malformed *a2a.MalformedCardError
		if errors.As(err, &malformed) {
			kind = MalformedCard
		}
		if entry.Health == HealthReachable && entry.failures < r.failureThreshold {
			r.logger.Warnf("Probe of %s failed (%d/%d), still reachable", address, entry.failures, r.failureThreshold)
		} else if entry.Health != HealthUnreachable {
			entry.Health = HealthUnreachable
			r.logger.Warnf("Remote agent %s is unreachable: %v", address, err)
		}
		if entry.Health == HealthUnreachable {
			r.metrics.AgentHealth(entryLabel(entry), false)
		}
		return nil, &DiscoveryError{Kind: kind, Address: address, Err: err}
	}

	entry.Card = c
	entry.failures = 0
	entry.LastContact = time.Now()
	if entry.Health != HealthReachable {
		r.logger.Infof("Remote agent %q at %s is reachable (%d skills)", c.Name, address, len(c.Skills))
	}
	entry.Health = HealthReachable
	r.metrics.AgentHealth(entryLabel(entry), true)
	return c, nil
}

func entryLabel(entry *Entry) string {
	if entry.Card != nil {
		return entry.Card.Name
	}
	return entry.Address
}

// Refresh re-probes a known address and returns the updated entry.
func (r *Registry) Refresh(ctx context.Context, address string) (Entry, error) {
	r.mu.RLock()
	_, known := r.entries[address]
	r.mu.RUnlock()
	if !known {
		return Entry{}, ErrUnknownAgent
	}

	_, err := r.Discover(ctx, address)

	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot := *r.entries[address]
	if err != nil {
		return snapshot, err
	}
	return snapshot, nil
}

// DiscoverAll probes every registered address, tolerating failures:
// unreachable agents are simply excluded from the candidate set.
func (r *Registry) DiscoverAll(ctx context.Context) {
	for _, address := range r.addresses() {
		if _, err := r.Discover(ctx, address); err != nil {
			r.logger.Debugf("Discovery of %s failed: %v", address, err)
		}
	}
}

// ListReachable returns copies of all reachable entries in registration order.
func (r *Registry) ListReachable() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Entry
	for _, address := range r.order {
		entry := r.entries[address]
		if entry.Health == HealthReachable && entry.Card != nil {
			out = append(out, *entry)
		}
	}
	return out
}

// Lookup finds an entry by discovered agent name.
func (r *Registry) Lookup(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, address := range r.order {
		entry := r.entries[address]
		if entry.Card != nil && entry.Card.Name == name {
			return *entry, true
		}
	}
	return Entry{}, false
}

func (r *Registry) addresses() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

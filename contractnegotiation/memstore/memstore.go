// Package memstore is the in-memory reference implementation of the negotiation store
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/raulk/clock"
	"golang.org/x/xerrors"

	cn "github.com/filecoin-project/go-dataspace/contractnegotiation"
)

// DefaultLeaseDuration is how long a lease lasts when not released
const DefaultLeaseDuration = time.Minute

type lease struct {
	owner   string
	expires time.Time
}

// Store keeps negotiations in memory
type Store struct {
	lk            sync.Mutex
	clock         clock.Clock
	leaseDuration time.Duration

	records      map[string]cn.ContractNegotiation
	correlations map[string]string
	leases       map[string]lease
}

// Option configures a Store
type Option func(*Store)

// WithClock sets the clock used for leases and retry delays
func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		s.clock = c
	}
}

// WithLeaseDuration sets how long a lease is held before it can be reclaimed
func WithLeaseDuration(d time.Duration) Option {
	return func(s *Store) {
		s.leaseDuration = d
	}
}

// New returns an empty store
func New(opts ...Option) *Store {
	s := &Store{
		clock:         clock.New(),
		leaseDuration: DefaultLeaseDuration,
		records:       map[string]cn.ContractNegotiation{},
		correlations:  map[string]string{},
		leases:        map[string]lease{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ cn.Store = (*Store)(nil)

func (s *Store) Find(_ context.Context, id string) (*cn.ContractNegotiation, error) {
	s.lk.Lock()
	defer s.lk.Unlock()

	n, ok := s.records[id]
	if !ok {
		return nil, xerrors.Errorf("negotiation %s: %w", id, cn.ErrNotFound)
	}
	out := n.Clone()
	return &out, nil
}

func (s *Store) FindForCorrelationID(ctx context.Context, correlationID string) (*cn.ContractNegotiation, error) {
	s.lk.Lock()
	id, ok := s.correlations[correlationID]
	s.lk.Unlock()
	if !ok {
		return nil, xerrors.Errorf("negotiation with correlation id %s: %w", correlationID, cn.ErrNotFound)
	}
	return s.Find(ctx, id)
}

func (s *Store) Save(_ context.Context, n *cn.ContractNegotiation) error {
	if n.ID == "" {
		return xerrors.New("cannot save a negotiation without id")
	}

	s.lk.Lock()
	defer s.lk.Unlock()

	stored, exists := s.records[n.ID]
	switch {
	case !exists && n.StateCount != 0:
		return xerrors.Errorf("negotiation %s: %w", n.ID, cn.ErrNotFound)
	case exists && stored.StateCount != n.StateCount:
		return xerrors.Errorf("negotiation %s at version %d, stored %d: %w",
			n.ID, n.StateCount, stored.StateCount, cn.ErrConcurrentModification)
	}

	if n.CorrelationID != "" {
		if other, ok := s.correlations[n.CorrelationID]; ok && other != n.ID {
			return xerrors.Errorf("correlation id %s already used by negotiation %s", n.CorrelationID, other)
		}
	}
	if exists && stored.CorrelationID != "" && stored.CorrelationID != n.CorrelationID {
		return xerrors.Errorf("negotiation %s: correlation id cannot change from %s to %s",
			n.ID, stored.CorrelationID, n.CorrelationID)
	}

	n.StateCount++
	s.records[n.ID] = n.Clone()
	if n.CorrelationID != "" {
		s.correlations[n.CorrelationID] = n.ID
	}
	return nil
}

func (s *Store) LeaseNext(_ context.Context, owner string, state cn.State, limit int) ([]cn.ContractNegotiation, error) {
	if limit <= 0 {
		return nil, nil
	}

	s.lk.Lock()
	defer s.lk.Unlock()

	now := s.clock.Now()
	var candidates []cn.ContractNegotiation
	for id, n := range s.records {
		if n.State != state || n.NextAttempt.After(now) {
			continue
		}
		if l, ok := s.leases[id]; ok && l.expires.After(now) {
			continue
		}
		candidates = append(candidates, n)
	}

	// oldest transitions first
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].StateTimestamp.Before(candidates[j].StateTimestamp)
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	out := make([]cn.ContractNegotiation, 0, len(candidates))
	for _, n := range candidates {
		s.leases[n.ID] = lease{owner: owner, expires: now.Add(s.leaseDuration)}
		out = append(out, n.Clone())
	}
	return out, nil
}

// LeaseDuration is how long a lease lasts when not released
func (s *Store) LeaseDuration() time.Duration {
	return s.leaseDuration
}

func (s *Store) ReleaseLease(_ context.Context, id string, owner string) error {
	s.lk.Lock()
	defer s.lk.Unlock()

	if l, ok := s.leases[id]; ok && l.owner == owner {
		delete(s.leases, id)
	}
	return nil
}

func (s *Store) List(_ context.Context) ([]cn.ContractNegotiation, error) {
	s.lk.Lock()
	defer s.lk.Unlock()

	out := make([]cn.ContractNegotiation, 0, len(s.records))
	for _, n := range s.records {
		out = append(out, n.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

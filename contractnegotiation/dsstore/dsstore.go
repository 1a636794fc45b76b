// Package dsstore keeps negotiations in a go-datastore. Any datastore works:
// an in-memory map for tests, leveldb or badger on disk.
//
// All writes go through one mutex, so a datastore must only be opened by one
// process at a time (leveldb and badger enforce this with a directory lock).
package dsstore

import (
	"context"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/namespace"
	logging "github.com/ipfs/go-log/v2"
	"github.com/raulk/clock"
	"golang.org/x/xerrors"

	cn "github.com/filecoin-project/go-dataspace/contractnegotiation"
	"github.com/filecoin-project/go-dataspace/lib/statestore"
)

var log = logging.Logger("negotiation-store")

const (
	// DefaultLeaseDuration is how long a lease lasts when not released
	DefaultLeaseDuration = time.Minute

	correlationCacheSize = 4096
)

var (
	negotiationsPrefix = datastore.NewKey("/negotiations")
	leasesPrefix       = datastore.NewKey("/leases")
	correlationsPrefix = datastore.NewKey("/correlations")
)

type lease struct {
	Owner   string
	Expires time.Time
}

// Store persists negotiations in a datastore
type Store struct {
	lk            sync.Mutex
	clock         clock.Clock
	leaseDuration time.Duration

	ds           datastore.Batching
	records      *statestore.StateStore[cn.ContractNegotiation]
	leases       *statestore.StateStore[lease]
	correlations datastore.Datastore

	correlationCache *lru.Cache[string, string]
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

// New returns a store writing under /negotiations, /leases and /correlations of ds
func New(ds datastore.Batching, opts ...Option) (*Store, error) {
	cache, err := lru.New[string, string](correlationCacheSize)
	if err != nil {
		return nil, xerrors.Errorf("creating correlation cache: %w", err)
	}
	s := &Store{
		clock:            clock.New(),
		leaseDuration:    DefaultLeaseDuration,
		ds:               ds,
		records:          statestore.New[cn.ContractNegotiation](namespace.Wrap(ds, negotiationsPrefix)),
		leases:           statestore.New[lease](namespace.Wrap(ds, leasesPrefix)),
		correlations:     namespace.Wrap(ds, correlationsPrefix),
		correlationCache: cache,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

var _ cn.Store = (*Store)(nil)

func (s *Store) Find(ctx context.Context, id string) (*cn.ContractNegotiation, error) {
	n, err := s.records.Get(ctx, id)
	if err != nil {
		if xerrors.Is(err, datastore.ErrNotFound) {
			return nil, xerrors.Errorf("negotiation %s: %w", id, cn.ErrNotFound)
		}
		return nil, xerrors.Errorf("getting negotiation %s: %w", id, err)
	}
	return n, nil
}

func (s *Store) FindForCorrelationID(ctx context.Context, correlationID string) (*cn.ContractNegotiation, error) {
	if id, ok := s.correlationCache.Get(correlationID); ok {
		return s.Find(ctx, id)
	}

	id, err := s.correlations.Get(ctx, datastore.NewKey(correlationID))
	if err != nil {
		if xerrors.Is(err, datastore.ErrNotFound) {
			return nil, xerrors.Errorf("negotiation with correlation id %s: %w", correlationID, cn.ErrNotFound)
		}
		return nil, xerrors.Errorf("getting correlation %s: %w", correlationID, err)
	}
	s.correlationCache.Add(correlationID, string(id))
	return s.Find(ctx, string(id))
}

func (s *Store) Save(ctx context.Context, n *cn.ContractNegotiation) error {
	if n.ID == "" {
		return xerrors.New("cannot save a negotiation without id")
	}

	s.lk.Lock()
	defer s.lk.Unlock()

	stored, err := s.records.Get(ctx, n.ID)
	switch {
	case xerrors.Is(err, datastore.ErrNotFound):
		if n.StateCount != 0 {
			return xerrors.Errorf("negotiation %s: %w", n.ID, cn.ErrNotFound)
		}
		stored = nil
	case err != nil:
		return xerrors.Errorf("getting negotiation %s: %w", n.ID, err)
	case stored.StateCount != n.StateCount:
		return xerrors.Errorf("negotiation %s at version %d, stored %d: %w",
			n.ID, n.StateCount, stored.StateCount, cn.ErrConcurrentModification)
	}

	if stored != nil && stored.CorrelationID != "" && stored.CorrelationID != n.CorrelationID {
		return xerrors.Errorf("negotiation %s: correlation id cannot change from %s to %s",
			n.ID, stored.CorrelationID, n.CorrelationID)
	}
	newCorrelation := n.CorrelationID != "" && (stored == nil || stored.CorrelationID == "")
	if newCorrelation {
		other, err := s.correlations.Get(ctx, datastore.NewKey(n.CorrelationID))
		switch {
		case err == nil && string(other) != n.ID:
			return xerrors.Errorf("correlation id %s already used by negotiation %s", n.CorrelationID, string(other))
		case err != nil && !xerrors.Is(err, datastore.ErrNotFound):
			return xerrors.Errorf("checking correlation %s: %w", n.CorrelationID, err)
		}
	}

	next := n.Clone()
	next.StateCount++
	b, err := statestore.Encode(&next)
	if err != nil {
		return xerrors.Errorf("encoding negotiation %s: %w", n.ID, err)
	}

	// the record and its correlation index are committed together
	batch, err := s.ds.Batch(ctx)
	if err != nil {
		return xerrors.Errorf("starting batch for negotiation %s: %w", n.ID, err)
	}
	if err := batch.Put(ctx, negotiationsPrefix.Child(datastore.NewKey(n.ID)), b); err != nil {
		return xerrors.Errorf("saving negotiation %s: %w", n.ID, err)
	}
	if newCorrelation {
		if err := batch.Put(ctx, correlationsPrefix.Child(datastore.NewKey(n.CorrelationID)), []byte(n.ID)); err != nil {
			return xerrors.Errorf("indexing correlation %s: %w", n.CorrelationID, err)
		}
	}
	if err := batch.Commit(ctx); err != nil {
		return xerrors.Errorf("committing negotiation %s: %w", n.ID, err)
	}
	n.StateCount = next.StateCount
	return nil
}

func (s *Store) LeaseNext(ctx context.Context, owner string, state cn.State, limit int) ([]cn.ContractNegotiation, error) {
	if limit <= 0 {
		return nil, nil
	}

	s.lk.Lock()
	defer s.lk.Unlock()

	all, err := s.records.List(ctx)
	if err != nil {
		// undecodable records are skipped, the rest can still be worked on
		log.Errorw("listing negotiations", "err", err)
		if all == nil {
			return nil, xerrors.Errorf("listing negotiations: %w", err)
		}
	}

	now := s.clock.Now()
	var candidates []cn.ContractNegotiation
	for _, n := range all {
		if n.State != state || n.NextAttempt.After(now) {
			continue
		}
		l, err := s.leases.Get(ctx, n.ID)
		switch {
		case err == nil && l.Expires.After(now):
			continue
		case err != nil && !xerrors.Is(err, datastore.ErrNotFound):
			return nil, xerrors.Errorf("getting lease for %s: %w", n.ID, err)
		}
		candidates = append(candidates, n)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].StateTimestamp.Before(candidates[j].StateTimestamp)
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	for _, n := range candidates {
		if err := s.leases.Put(ctx, n.ID, &lease{Owner: owner, Expires: now.Add(s.leaseDuration)}); err != nil {
			return nil, xerrors.Errorf("leasing %s: %w", n.ID, err)
		}
	}
	return candidates, nil
}

// LeaseDuration is how long a lease lasts when not released
func (s *Store) LeaseDuration() time.Duration {
	return s.leaseDuration
}

func (s *Store) ReleaseLease(ctx context.Context, id string, owner string) error {
	s.lk.Lock()
	defer s.lk.Unlock()

	l, err := s.leases.Get(ctx, id)
	if err != nil {
		if xerrors.Is(err, datastore.ErrNotFound) {
			return nil
		}
		return xerrors.Errorf("getting lease for %s: %w", id, err)
	}
	if l.Owner != owner {
		return nil
	}
	return s.leases.End(ctx, id)
}

func (s *Store) List(ctx context.Context) ([]cn.ContractNegotiation, error) {
	all, err := s.records.List(ctx)
	if err != nil {
		return all, xerrors.Errorf("listing negotiations: %w", err)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	return all, nil
}

// Package storetest checks that a negotiation store honors the store contract.
// Every store implementation runs TestStore from its own tests.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/raulk/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cn "github.com/filecoin-project/go-dataspace/contractnegotiation"
)

// LeaseDuration is the lease duration factories must configure
const LeaseDuration = time.Minute

// Factory returns an empty store using the given clock and LeaseDuration
type Factory func(t *testing.T, clk clock.Clock) cn.Store

var epoch = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

// MakeNegotiation returns a record ready to be created
func MakeNegotiation(id string, state cn.State) *cn.ContractNegotiation {
	return &cn.ContractNegotiation{
		ID:                  id,
		CounterPartyID:      "provider",
		CounterPartyAddress: "http://provider.local",
		Protocol:            "dataspace-protocol-http",
		Type:                cn.TypeConsumer,
		State:               state,
		StateTimestamp:      epoch,
		CreatedAt:           epoch,
		Offers: []cn.ContractOffer{{
			ID:         id + "-offer",
			AssetID:    "asset",
			ProviderID: "provider",
			ConsumerID: "consumer",
			Policy: cn.Policy{
				UID:         id + "-policy",
				Target:      "asset",
				Assigner:    "provider",
				Permissions: []cn.Rule{{Action: "use"}},
			},
			OfferStart: epoch,
			OfferEnd:   epoch.Add(24 * time.Hour),
		}},
	}
}

// RequireEqual compares two records, treating equal instants as equal times
func RequireEqual(t *testing.T, expected, actual *cn.ContractNegotiation) {
	t.Helper()
	require.NotNil(t, actual)
	require.Equal(t, normalize(expected), normalize(actual))
}

func normalize(n *cn.ContractNegotiation) cn.ContractNegotiation {
	out := n.Clone()
	out.StateTimestamp = out.StateTimestamp.UTC()
	out.CreatedAt = out.CreatedAt.UTC()
	out.NextAttempt = out.NextAttempt.UTC()
	if len(out.Offers) == 0 {
		out.Offers = nil
	}
	for i := range out.Offers {
		out.Offers[i].OfferStart = out.Offers[i].OfferStart.UTC()
		out.Offers[i].OfferEnd = out.Offers[i].OfferEnd.UTC()
	}
	if out.Agreement != nil {
		out.Agreement.SigningDate = out.Agreement.SigningDate.UTC()
	}
	return out
}

// TestStore runs the store contract suite
func TestStore(t *testing.T, factory Factory) {
	t.Run("save and find", func(t *testing.T) { testSaveAndFind(t, factory) })
	t.Run("compare and swap", func(t *testing.T) { testCompareAndSwap(t, factory) })
	t.Run("correlation lookup", func(t *testing.T) { testCorrelation(t, factory) })
	t.Run("lease next", func(t *testing.T) { testLeaseNext(t, factory) })
	t.Run("lease expiry", func(t *testing.T) { testLeaseExpiry(t, factory) })
	t.Run("next attempt", func(t *testing.T) { testNextAttempt(t, factory) })
	t.Run("concurrent leases", func(t *testing.T) { testConcurrentLeases(t, factory) })
	t.Run("list", func(t *testing.T) { testList(t, factory) })
}

func testSaveAndFind(t *testing.T, factory Factory) {
	ctx := context.Background()
	s := factory(t, clock.NewMock())

	_, err := s.Find(ctx, "missing")
	require.ErrorIs(t, err, cn.ErrNotFound)

	n := MakeNegotiation("n1", cn.Requesting)
	n.Agreement = &cn.ContractAgreement{
		ID:          "a1",
		ProviderID:  "provider",
		ConsumerID:  "consumer",
		AssetID:     "asset",
		Policy:      n.Offers[0].Policy,
		SigningDate: epoch,
		OfferHash:   "hash",
	}
	require.NoError(t, s.Save(ctx, n))
	require.Equal(t, uint64(1), n.StateCount)

	found, err := s.Find(ctx, "n1")
	require.NoError(t, err)
	RequireEqual(t, n, found)

	found.State = cn.Requested
	found.ErrorDetail = "detail"
	require.NoError(t, s.Save(ctx, found))
	require.Equal(t, uint64(2), found.StateCount)

	again, err := s.Find(ctx, "n1")
	require.NoError(t, err)
	RequireEqual(t, found, again)

	orphan := MakeNegotiation("orphan", cn.Requested)
	orphan.StateCount = 3
	require.Error(t, s.Save(ctx, orphan))
}

func testCompareAndSwap(t *testing.T, factory Factory) {
	ctx := context.Background()
	s := factory(t, clock.NewMock())

	require.NoError(t, s.Save(ctx, MakeNegotiation("n1", cn.Requesting)))

	duplicate := MakeNegotiation("n1", cn.Requested)
	require.ErrorIs(t, s.Save(ctx, duplicate), cn.ErrConcurrentModification)

	a, err := s.Find(ctx, "n1")
	require.NoError(t, err)
	b, err := s.Find(ctx, "n1")
	require.NoError(t, err)

	a.State = cn.Requested
	require.NoError(t, s.Save(ctx, a))

	b.State = cn.Terminated
	require.ErrorIs(t, s.Save(ctx, b), cn.ErrConcurrentModification)
	assert.Equal(t, uint64(1), b.StateCount, "failed save must not bump the version")

	stored, err := s.Find(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, cn.Requested, stored.State)
	assert.Equal(t, uint64(2), stored.StateCount)
}

func testCorrelation(t *testing.T, factory Factory) {
	ctx := context.Background()
	s := factory(t, clock.NewMock())

	n := MakeNegotiation("p1", cn.Requested)
	n.Type = cn.TypeProvider
	require.NoError(t, s.Save(ctx, n))

	_, err := s.FindForCorrelationID(ctx, "c1")
	require.ErrorIs(t, err, cn.ErrNotFound)

	n.CorrelationID = "c1"
	require.NoError(t, s.Save(ctx, n))

	found, err := s.FindForCorrelationID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "p1", found.ID)

	other := MakeNegotiation("p2", cn.Requested)
	other.CorrelationID = "c1"
	require.Error(t, s.Save(ctx, other), "correlation ids are unique")
}

func testLeaseNext(t *testing.T, factory Factory) {
	ctx := context.Background()
	s := factory(t, clock.NewMock())

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Save(ctx, MakeNegotiation(fmt.Sprintf("req-%d", i), cn.Requesting)))
	}
	require.NoError(t, s.Save(ctx, MakeNegotiation("other", cn.Requested)))

	first, err := s.LeaseNext(ctx, "owner-a", cn.Requesting, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	for _, n := range first {
		assert.Equal(t, cn.Requesting, n.State)
	}

	second, err := s.LeaseNext(ctx, "owner-b", cn.Requesting, 2)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.NotContains(t, []string{first[0].ID, first[1].ID}, second[0].ID)

	none, err := s.LeaseNext(ctx, "owner-a", cn.Requesting, 2)
	require.NoError(t, err)
	assert.Empty(t, none)

	// saving does not release the lease
	n, err := s.Find(ctx, first[0].ID)
	require.NoError(t, err)
	n.RetryCount++
	require.NoError(t, s.Save(ctx, n))
	none, err = s.LeaseNext(ctx, "owner-a", cn.Requesting, 2)
	require.NoError(t, err)
	assert.Empty(t, none)

	// only the owner releases
	require.NoError(t, s.ReleaseLease(ctx, first[0].ID, "owner-b"))
	none, err = s.LeaseNext(ctx, "owner-b", cn.Requesting, 2)
	require.NoError(t, err)
	assert.Empty(t, none)

	require.NoError(t, s.ReleaseLease(ctx, first[0].ID, "owner-a"))
	again, err := s.LeaseNext(ctx, "owner-b", cn.Requesting, 2)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, first[0].ID, again[0].ID)
	assert.Equal(t, uint64(2), again[0].StateCount)

	zero, err := s.LeaseNext(ctx, "owner-a", cn.Requested, 0)
	require.NoError(t, err)
	assert.Empty(t, zero)
}

func testLeaseExpiry(t *testing.T, factory Factory) {
	ctx := context.Background()
	clk := clock.NewMock()
	clk.Set(epoch)
	s := factory(t, clk)

	require.NoError(t, s.Save(ctx, MakeNegotiation("n1", cn.Declining)))

	leased, err := s.LeaseNext(ctx, "crashed", cn.Declining, 10)
	require.NoError(t, err)
	require.Len(t, leased, 1)

	clk.Add(LeaseDuration / 2)
	leased, err = s.LeaseNext(ctx, "survivor", cn.Declining, 10)
	require.NoError(t, err)
	require.Empty(t, leased)

	clk.Add(LeaseDuration)
	leased, err = s.LeaseNext(ctx, "survivor", cn.Declining, 10)
	require.NoError(t, err)
	require.Len(t, leased, 1)
}

func testNextAttempt(t *testing.T, factory Factory) {
	ctx := context.Background()
	clk := clock.NewMock()
	clk.Set(epoch)
	s := factory(t, clk)

	n := MakeNegotiation("n1", cn.Requesting)
	n.RetryCount = 1
	n.NextAttempt = epoch.Add(10 * time.Second)
	require.NoError(t, s.Save(ctx, n))

	leased, err := s.LeaseNext(ctx, "owner", cn.Requesting, 10)
	require.NoError(t, err)
	require.Empty(t, leased)

	clk.Add(10 * time.Second)
	leased, err = s.LeaseNext(ctx, "owner", cn.Requesting, 10)
	require.NoError(t, err)
	require.Len(t, leased, 1)
	assert.Equal(t, uint64(1), leased[0].RetryCount)
}

func testConcurrentLeases(t *testing.T, factory Factory) {
	ctx := context.Background()
	s := factory(t, clock.NewMock())

	const records = 10
	for i := 0; i < records; i++ {
		require.NoError(t, s.Save(ctx, MakeNegotiation(fmt.Sprintf("n-%d", i), cn.Offering)))
	}

	var (
		lk     sync.Mutex
		leased = map[string]int{}
		wg     sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < records; i++ {
				got, err := s.LeaseNext(ctx, fmt.Sprintf("worker-%d", w), cn.Offering, 1)
				if !assert.NoError(t, err) {
					return
				}
				lk.Lock()
				for _, n := range got {
					leased[n.ID]++
				}
				lk.Unlock()
			}
		}(w)
	}
	wg.Wait()

	require.Len(t, leased, records)
	for id, count := range leased {
		assert.Equal(t, 1, count, "negotiation %s leased more than once", id)
	}
}

func testList(t *testing.T, factory Factory) {
	ctx := context.Background()
	s := factory(t, clock.NewMock())

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	for i := 0; i < 4; i++ {
		require.NoError(t, s.Save(ctx, MakeNegotiation(fmt.Sprintf("n-%d", i), cn.Requested)))
	}
	all, err = s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

package sqlstore_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/raulk/clock"
	"github.com/stretchr/testify/require"

	cn "github.com/filecoin-project/go-dataspace/contractnegotiation"
	"github.com/filecoin-project/go-dataspace/contractnegotiation/sqlstore"
	"github.com/filecoin-project/go-dataspace/contractnegotiation/storetest"
	"github.com/filecoin-project/go-dataspace/lib/sqlite"
)

func TestSqlStore(t *testing.T) {
	storetest.TestStore(t, func(t *testing.T, clk clock.Clock) cn.Store {
		s, err := sqlstore.Open(context.Background(), filepath.Join(t.TempDir(), "negotiations.db"),
			sqlstore.WithClock(clk), sqlstore.WithLeaseDuration(storetest.LeaseDuration))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestMigratesVersionOneSchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "old.db")

	db, err := sqlite.Open(path)
	require.NoError(t, err)
	// the first released schema, without offer rounds
	require.NoError(t, sqlite.InitDb(ctx, "negotiations", db, []string{
		`CREATE TABLE negotiations (
			id TEXT PRIMARY KEY,
			correlation_id TEXT UNIQUE,
			counter_party_id TEXT NOT NULL,
			counter_party_address TEXT NOT NULL,
			protocol TEXT NOT NULL,
			type INTEGER NOT NULL,
			state INTEGER NOT NULL,
			state_count INTEGER NOT NULL,
			state_timestamp INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			offers TEXT NOT NULL,
			agreement TEXT,
			error_detail TEXT NOT NULL DEFAULT '',
			retry_count INTEGER NOT NULL DEFAULT 0,
			next_attempt INTEGER NOT NULL DEFAULT 0,
			lease_owner TEXT,
			lease_expires INTEGER
		)`,
	}, nil))
	_, err = db.ExecContext(ctx, `INSERT INTO negotiations
		(id, counter_party_id, counter_party_address, protocol, type, state, state_count, state_timestamp, created_at, offers)
		VALUES ('old', 'provider', 'http://provider', 'dataspace-protocol-http', 1, 200, 1, 1, 1, '[]')`)
	require.NoError(t, err)

	s, err := sqlstore.New(ctx, db)
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck

	n, err := s.Find(ctx, "old")
	require.NoError(t, err)
	require.Equal(t, cn.Requested, n.State)
	require.Zero(t, n.Rounds)

	n.Rounds = 2
	require.NoError(t, s.Save(ctx, n))
	n, err = s.Find(ctx, "old")
	require.NoError(t, err)
	require.Equal(t, uint64(2), n.Rounds)
}

func TestReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "negotiations.db")

	s, err := sqlstore.Open(ctx, path)
	require.NoError(t, err)
	n := storetest.MakeNegotiation("n1", cn.Agreed)
	n.CorrelationID = "peer-1"
	n.Agreement = &cn.ContractAgreement{ID: "agreement-1", AssetID: "asset-1", ProviderID: "provider", ConsumerID: "consumer"}
	require.NoError(t, s.Save(ctx, n))
	require.NoError(t, s.Close())

	s, err = sqlstore.Open(ctx, path)
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck
	found, err := s.FindForCorrelationID(ctx, "peer-1")
	require.NoError(t, err)
	storetest.RequireEqual(t, n, found)
}

func TestConcurrentSavesOnSharedFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "negotiations.db")

	a, err := sqlstore.Open(ctx, path)
	require.NoError(t, err)
	defer a.Close() //nolint:errcheck
	b, err := sqlstore.Open(ctx, path)
	require.NoError(t, err)
	defer b.Close() //nolint:errcheck

	require.NoError(t, a.Save(ctx, storetest.MakeNegotiation("n1", cn.Requesting)))

	const writers = 8
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		conflicts atomic.Int32
	)
	for i := 0; i < writers; i++ {
		s := a
		if i%2 == 1 {
			s = b
		}
		wg.Add(1)
		go func(s *sqlstore.Store) {
			defer wg.Done()
			n, err := s.Find(ctx, "n1")
			if err != nil {
				return
			}
			n.RetryCount++
			switch err := s.Save(ctx, n); {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, cn.ErrConcurrentModification):
				conflicts.Add(1)
			}
		}(s)
	}
	wg.Wait()

	found, err := a.Find(ctx, "n1")
	require.NoError(t, err)
	require.EqualValues(t, 1+succeeded.Load(), found.StateCount)
	require.EqualValues(t, writers, succeeded.Load()+conflicts.Load())
}

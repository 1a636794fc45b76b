package dsstore_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	leveldb "github.com/ipfs/go-ds-leveldb"
	"github.com/raulk/clock"
	"github.com/stretchr/testify/require"

	cn "github.com/filecoin-project/go-dataspace/contractnegotiation"
	"github.com/filecoin-project/go-dataspace/contractnegotiation/dsstore"
	"github.com/filecoin-project/go-dataspace/contractnegotiation/storetest"
)

func TestMapDatastore(t *testing.T) {
	storetest.TestStore(t, func(t *testing.T, clk clock.Clock) cn.Store {
		s, err := dsstore.New(dssync.MutexWrap(datastore.NewMapDatastore()),
			dsstore.WithClock(clk), dsstore.WithLeaseDuration(storetest.LeaseDuration))
		require.NoError(t, err)
		return s
	})
}

func TestLevelDB(t *testing.T) {
	storetest.TestStore(t, func(t *testing.T, clk clock.Clock) cn.Store {
		ds, err := leveldb.NewDatastore(t.TempDir(), nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = ds.Close() })

		s, err := dsstore.New(ds, dsstore.WithClock(clk), dsstore.WithLeaseDuration(storetest.LeaseDuration))
		require.NoError(t, err)
		return s
	})
}

func TestReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	ds, err := leveldb.NewDatastore(dir, nil)
	require.NoError(t, err)
	s, err := dsstore.New(ds)
	require.NoError(t, err)

	n := storetest.MakeNegotiation("n1", cn.Requested)
	n.CorrelationID = "peer-1"
	require.NoError(t, s.Save(ctx, n))
	require.NoError(t, ds.Close())

	ds, err = leveldb.NewDatastore(dir, nil)
	require.NoError(t, err)
	defer ds.Close() //nolint:errcheck
	s, err = dsstore.New(ds)
	require.NoError(t, err)

	found, err := s.FindForCorrelationID(ctx, "peer-1")
	require.NoError(t, err)
	storetest.RequireEqual(t, n, found)
}

// indexFailingDS fails every batched write of the correlation index
type indexFailingDS struct {
	datastore.Batching
}

func (d indexFailingDS) Batch(ctx context.Context) (datastore.Batch, error) {
	b, err := d.Batching.Batch(ctx)
	if err != nil {
		return nil, err
	}
	return indexFailingBatch{Batch: b}, nil
}

type indexFailingBatch struct {
	datastore.Batch
}

func (b indexFailingBatch) Put(ctx context.Context, key datastore.Key, value []byte) error {
	if strings.HasPrefix(key.String(), "/correlations/") {
		return errors.New("disk full")
	}
	return b.Batch.Put(ctx, key, value)
}

func TestSaveIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s, err := dsstore.New(indexFailingDS{Batching: dssync.MutexWrap(datastore.NewMapDatastore())})
	require.NoError(t, err)

	n := storetest.MakeNegotiation("n1", cn.Requested)
	n.CorrelationID = "peer-1"
	require.Error(t, s.Save(ctx, n))
	require.Zero(t, n.StateCount)

	_, err = s.Find(ctx, "n1")
	require.ErrorIs(t, err, cn.ErrNotFound)
	_, err = s.FindForCorrelationID(ctx, "peer-1")
	require.ErrorIs(t, err, cn.ErrNotFound)

	// without a correlation id nothing touches the index
	n.CorrelationID = ""
	require.NoError(t, s.Save(ctx, n))
	found, err := s.Find(ctx, "n1")
	require.NoError(t, err)
	storetest.RequireEqual(t, n, found)
}

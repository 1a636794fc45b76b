package modules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"

	cn "github.com/filecoin-project/go-dataspace/contractnegotiation"
	"github.com/filecoin-project/go-dataspace/contractnegotiation/storetest"
	"github.com/filecoin-project/go-dataspace/node/config"
	"github.com/filecoin-project/go-dataspace/node/repo"
)

func TestDatastoreOnFreshRepo(t *testing.T) {
	for _, backend := range []string{config.BackendLevelDB, config.BackendBadger} {
		backend := backend
		t.Run(backend, func(t *testing.T) {
			r, err := repo.NewFS(t.TempDir())
			require.NoError(t, err)
			require.NoError(t, r.Init("connector", []byte("shared")))
			lr, err := r.Lock()
			require.NoError(t, err)
			t.Cleanup(func() { require.NoError(t, lr.Close()) })

			cfg := config.DefaultNode()
			cfg.Store.Backend = backend

			lc := fxtest.NewLifecycle(t)
			ds, err := Datastore(lc, cfg, lr)
			require.NoError(t, err)
			require.DirExists(t, repo.DatastorePath(lr, backend))

			s, err := ConsumerStore(StoreParams{Lifecycle: lc, Config: cfg, Repo: lr, DS: ds})
			require.NoError(t, err)

			ctx := context.Background()
			n := storetest.MakeNegotiation("n1", cn.Requesting)
			require.NoError(t, s.Save(ctx, n))
			found, err := s.Find(ctx, "n1")
			require.NoError(t, err)
			storetest.RequireEqual(t, n, found)

			lc.RequireStart()
			lc.RequireStop()
		})
	}
}

package modules

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/namespace"
	badger "github.com/ipfs/go-ds-badger2"
	leveldb "github.com/ipfs/go-ds-leveldb"
	measure "github.com/ipfs/go-ds-measure"
	"go.uber.org/fx"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-dataspace/api"
	cn "github.com/filecoin-project/go-dataspace/contractnegotiation"
	"github.com/filecoin-project/go-dataspace/contractnegotiation/dsstore"
	"github.com/filecoin-project/go-dataspace/contractnegotiation/memstore"
	"github.com/filecoin-project/go-dataspace/contractnegotiation/sqlstore"
	"github.com/filecoin-project/go-dataspace/node/config"
	"github.com/filecoin-project/go-dataspace/node/modules/dtypes"
	"github.com/filecoin-project/go-dataspace/node/repo"
)

func storePath(cfg *config.Node, lr repo.LockedRepo) string {
	switch {
	case cfg.Store.Path == "":
		return repo.DatastorePath(lr, cfg.Store.Backend)
	case filepath.IsAbs(cfg.Store.Path):
		return cfg.Store.Path
	default:
		return lr.Join(cfg.Store.Path)
	}
}

// Datastore opens the leveldb or badger datastore both roles keep their
// negotiations in, under separate namespaces
func Datastore(lc fx.Lifecycle, cfg *config.Node, lr repo.LockedRepo) (dtypes.MetadataDS, error) {
	path := storePath(cfg, lr)
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, xerrors.Errorf("creating datastore directory %s: %w", path, err)
	}

	var ds datastore.Batching
	switch cfg.Store.Backend {
	case config.BackendLevelDB:
		lds, err := leveldb.NewDatastore(path, nil)
		if err != nil {
			return nil, xerrors.Errorf("opening leveldb datastore at %s: %w", path, err)
		}
		ds = lds
	case config.BackendBadger:
		opts := badger.DefaultOptions
		bds, err := badger.NewDatastore(path, &opts)
		if err != nil {
			return nil, xerrors.Errorf("opening badger datastore at %s: %w", path, err)
		}
		ds = bds
	default:
		return nil, xerrors.Errorf("%s is not a datastore backend", cfg.Store.Backend)
	}

	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			return ds.Close()
		},
	})

	if cfg.Store.Measure {
		ds = measure.New("dataspace.datastore", ds)
	}
	log.Infow("datastore opened", "backend", cfg.Store.Backend, "path", path)
	return ds, nil
}

type StoreParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    *config.Node
	Repo      repo.LockedRepo
	DS        dtypes.MetadataDS `optional:"true"`
}

func ConsumerStore(p StoreParams) (dtypes.ConsumerStore, error) {
	return openStore(p, api.RoleConsumer)
}

func ProviderStore(p StoreParams) (dtypes.ProviderStore, error) {
	return openStore(p, api.RoleProvider)
}

func openStore(p StoreParams, role api.Role) (cn.Store, error) {
	lease := time.Duration(p.Config.Store.LeaseDuration)

	switch p.Config.Store.Backend {
	case config.BackendMemory:
		return memstore.New(memstore.WithLeaseDuration(lease)), nil
	case config.BackendSQLite:
		path := filepath.Join(storePath(p.Config, p.Repo), string(role)+".sqlite")
		s, err := sqlstore.Open(context.TODO(), path, sqlstore.WithLeaseDuration(lease))
		if err != nil {
			return nil, xerrors.Errorf("opening %s negotiation store: %w", role, err)
		}
		p.Lifecycle.Append(fx.Hook{
			OnStop: func(_ context.Context) error {
				return s.Close()
			},
		})
		return s, nil
	default:
		if p.DS == nil {
			return nil, xerrors.Errorf("no datastore for backend %s", p.Config.Store.Backend)
		}
		ds := namespace.Wrap(p.DS, datastore.NewKey(string(role)))
		return dsstore.New(ds, dsstore.WithLeaseDuration(lease))
	}
}

package modules

import (
	"context"
	"errors"
	"time"

	"github.com/filecoin-project/go-jsonrpc/auth"
	"github.com/gbrlsnchs/jwt/v3"
	logging "github.com/ipfs/go-log/v2"
	"go.uber.org/fx"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-dataspace/api"
	"github.com/filecoin-project/go-dataspace/contractnegotiation/network/httpnet"
	"github.com/filecoin-project/go-dataspace/lib/dslog"
	"github.com/filecoin-project/go-dataspace/node/config"
	"github.com/filecoin-project/go-dataspace/node/modules/dtypes"
	"github.com/filecoin-project/go-dataspace/node/repo"
)

var log = logging.Logger("modules")

func LockedRepo(lr repo.LockedRepo) func(lc fx.Lifecycle) repo.LockedRepo {
	return func(lc fx.Lifecycle) repo.LockedRepo {
		lc.Append(fx.Hook{
			OnStop: func(_ context.Context) error {
				return lr.Close()
			},
		})

		return lr
	}
}

// Config loads and validates the repo config
func Config(lr repo.LockedRepo) (*config.Node, error) {
	cfg, err := lr.Config()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, xerrors.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SetupLogLevels applies the configured log levels
func SetupLogLevels(cfg *config.Node) error {
	return dslog.SetupLogLevels(cfg.Logging.Level, cfg.Logging.SubsystemLevels)
}

func APISecret(lr repo.LockedRepo) (*dtypes.APIAlg, error) {
	key, err := lr.APISecret()
	if err != nil {
		return nil, xerrors.Errorf("couldn't get JWT secret: %w", err)
	}
	return (*dtypes.APIAlg)(jwt.NewHS256(key)), nil
}

type jwtPayload struct {
	Allow []auth.Permission
}

// AuthNew signs a management API token granting perms
func AuthNew(alg *dtypes.APIAlg, perms []auth.Permission) ([]byte, error) {
	return jwt.Sign(&jwtPayload{Allow: perms}, (*jwt.HMACSHA)(alg))
}

// AuthVerify returns the permissions a management API token grants
func AuthVerify(alg *dtypes.APIAlg, token string) ([]auth.Permission, error) {
	var payload jwtPayload
	if _, err := jwt.Verify([]byte(token), (*jwt.HMACSHA)(alg), &payload); err != nil {
		return nil, xerrors.Errorf("JWT Verification failed: %w", err)
	}
	return payload.Allow, nil
}

// StoreAdminToken writes an admin token into the repo for local clients
func StoreAdminToken(lr repo.LockedRepo, alg *dtypes.APIAlg) error {
	token, err := AuthNew(alg, api.AllPermissions)
	if err != nil {
		return xerrors.Errorf("creating admin token: %w", err)
	}
	return lr.SetAPIToken(token)
}

// PeerAuth signs and verifies the tokens exchanged with peers. The configured
// secret wins over the one in the repo keystore.
func PeerAuth(cfg *config.Node, lr repo.LockedRepo) (*httpnet.Auth, error) {
	secret := []byte(cfg.Transport.TokenSecret)
	if len(secret) == 0 {
		var err error
		secret, err = lr.TokenSecret()
		if errors.Is(err, repo.ErrNoTokenSecret) {
			return nil, xerrors.New("no transport token secret configured and none in the keystore")
		}
		if err != nil {
			return nil, err
		}
	}
	return httpnet.NewAuth(secret, httpnet.WithTokenTTL(time.Duration(cfg.Transport.TokenTTL)))
}

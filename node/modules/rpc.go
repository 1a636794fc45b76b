package modules

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/filecoin-project/go-jsonrpc"
	"github.com/filecoin-project/go-jsonrpc/auth"
	"github.com/gorilla/mux"
	"go.uber.org/fx"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-dataspace/api"
	"github.com/filecoin-project/go-dataspace/api/apistruct"
	"github.com/filecoin-project/go-dataspace/api/client"
	"github.com/filecoin-project/go-dataspace/node/config"
	"github.com/filecoin-project/go-dataspace/node/modules/dtypes"
	"github.com/filecoin-project/go-dataspace/node/repo"
)

const readHeaderTimeout = 10 * time.Second

// APIHandler serves the management API under /rpc/v0 and the metrics under
// /debug/metrics
func APIHandler(a api.Dataspace, metricsHandler dtypes.MetricsHandler) http.Handler {
	rpcServer := jsonrpc.NewServer()
	rpcServer.Register(client.Namespace, apistruct.PermissionedDataspaceAPI(a))

	ah := &auth.Handler{
		Verify: a.AuthVerify,
		Next:   rpcServer.ServeHTTP,
	}

	m := mux.NewRouter()
	m.Handle("/rpc/v0", ah)
	m.Handle("/debug/metrics", metricsHandler)
	return m
}

// serve listens on addr until the lifecycle stops. The bound address is
// returned so that port 0 can be used.
func serve(lc fx.Lifecycle, name string, addr string, h http.Handler) (net.Addr, error) {
	lst, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, xerrors.Errorf("%s listen on %s: %w", name, addr, err)
	}
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := srv.Serve(lst); err != nil && err != http.ErrServerClosed {
					log.Errorw("server stopped", "server", name, "err", err)
				}
			}()
			log.Infow("server listening", "server", name, "addr", lst.Addr().String())
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
	return lst.Addr(), nil
}

// ServeAPI serves the management API and records its address and an admin
// token in the repo
func ServeAPI(lc fx.Lifecycle, cfg *config.Node, lr repo.LockedRepo, alg *dtypes.APIAlg, a api.Dataspace, metricsHandler dtypes.MetricsHandler) (dtypes.APIEndpoint, error) {
	addr, err := serve(lc, "api", cfg.API.ListenAddress, APIHandler(a, metricsHandler))
	if err != nil {
		return "", err
	}
	if err := lr.SetAPIEndpoint(addr.String()); err != nil {
		return "", xerrors.Errorf("recording api endpoint: %w", err)
	}
	if err := StoreAdminToken(lr, alg); err != nil {
		return "", err
	}
	return dtypes.APIEndpoint(addr.String()), nil
}

// ServeTransport serves the endpoints peers send negotiation messages to
func ServeTransport(lc fx.Lifecycle, cfg *config.Node, h dtypes.PeerHandler) error {
	_, err := serve(lc, "transport", cfg.Transport.ListenAddress, h)
	return err
}

package main

import (
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-dataspace/api"
	lcli "github.com/filecoin-project/go-dataspace/cli"
	"github.com/filecoin-project/go-dataspace/lib/tracing"
	"github.com/filecoin-project/go-dataspace/node"
	"github.com/filecoin-project/go-dataspace/node/config"
	"github.com/filecoin-project/go-dataspace/node/modules/dtypes"
	"github.com/filecoin-project/go-dataspace/node/repo"
)

var daemonCmd = &cli.Command{
	Name:  "daemon",
	Usage: "Start a dataspace connector process",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "api",
			Usage: "override the management API listen address",
		},
		&cli.StringFlag{
			Name:  "roles",
			Usage: "override the enabled roles: consumer, provider or both",
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx := lcli.ReqContext(cctx)

		r, err := repo.NewFS(cctx.String(lcli.RepoFlag.Name))
		if err != nil {
			return xerrors.Errorf("opening fs repo: %w", err)
		}
		ok, err := r.Exists()
		if err != nil {
			return err
		}
		if !ok {
			return xerrors.Errorf("repo at '%s' is not initialized, run 'dataspace-connector init' to set it up", cctx.String(lcli.RepoFlag.Name))
		}

		tp := tracing.SetupJaegerTracing("dataspace-connector")

		shutdownChan := make(chan struct{})

		var a api.Dataspace
		stop, err := node.New(ctx,
			node.DataspaceAPI(&a, true),
			node.Override(new(dtypes.ShutdownChan), shutdownChan),
			node.Repo(r, func(cfg *config.Node) {
				if cctx.IsSet("api") {
					cfg.API.ListenAddress = cctx.String("api")
				}
				if cctx.IsSet("roles") {
					cfg.Negotiation.Roles = cctx.String("roles")
				}
			}),
		)
		if err != nil {
			return xerrors.Errorf("initializing node: %w", err)
		}

		v, err := a.Version(ctx)
		if err != nil {
			return err
		}
		log.Infow("connector running", "version", v.Version, "participant", v.ParticipantID, "roles", v.Roles)

		// Monitor for shutdown.
		finishCh := node.MonitorShutdown(shutdownChan,
			node.ShutdownHandler{Component: "node", StopFunc: stop},
			node.ShutdownHandler{Component: "tracing", StopFunc: tracing.ShutdownFunc(tp)},
		)
		<-finishCh
		return nil
	},
}

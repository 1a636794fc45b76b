package main

import (
	"encoding/hex"

	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	lcli "github.com/filecoin-project/go-dataspace/cli"
	"github.com/filecoin-project/go-dataspace/node/repo"
)

var initCmd = &cli.Command{
	Name:  "init",
	Usage: "Initialize a connector repo",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "participant-id",
			Usage:    "identity of this participant in the dataspace",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "token-secret",
			Usage: "hex encoded secret shared with peers to sign transport tokens; random when unset",
		},
	},
	Action: func(cctx *cli.Context) error {
		log.Info("Initializing dataspace connector")

		var secret []byte
		if s := cctx.String("token-secret"); s != "" {
			var err error
			secret, err = hex.DecodeString(s)
			if err != nil {
				return lcli.ShowHelp(cctx, xerrors.Errorf("decoding token secret: %w", err))
			}
		}

		r, err := repo.NewFS(cctx.String(lcli.RepoFlag.Name))
		if err != nil {
			return err
		}
		if err := r.Init(cctx.String("participant-id"), secret); err != nil {
			if err == repo.ErrRepoExists {
				return xerrors.Errorf("repo at '%s' is already initialized", cctx.String(lcli.RepoFlag.Name))
			}
			return err
		}

		log.Infow("Connector initialized", "repo", cctx.String(lcli.RepoFlag.Name), "participant", cctx.String("participant-id"))
		return nil
	},
}

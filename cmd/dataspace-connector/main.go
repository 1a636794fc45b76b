package main

import (
	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"

	"github.com/filecoin-project/go-dataspace/build"
	lcli "github.com/filecoin-project/go-dataspace/cli"
)

var log = logging.Logger("main")

func main() {
	local := []*cli.Command{
		initCmd,
		daemonCmd,
		configCmd,
	}

	app := &cli.App{
		Name:                 "dataspace-connector",
		Usage:                "Dataspace connector negotiating usage contracts between participants",
		Version:              build.UserVersion(),
		EnableBashCompletion: true,
		Flags: []cli.Flag{
			lcli.RepoFlag,
		},

		Commands: append(local, lcli.Commands...),
	}

	lcli.RunApp(app)
}

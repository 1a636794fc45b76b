package cli

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/filecoin-project/go-dataspace/build"
)

var versionCmd = &cli.Command{
	Name:  "version",
	Usage: "Print version",
	Action: func(cctx *cli.Context) error {
		napi, closer, err := GetAPI(cctx)
		if err != nil {
			return err
		}
		defer closer()

		ctx := ReqContext(cctx)
		v, err := napi.Version(ctx)
		if err != nil {
			return err
		}

		w := cctx.App.Writer
		fmt.Fprintln(w, "Daemon: ", v.Version)
		fmt.Fprintln(w, "API:    ", v.APIVersion)
		fmt.Fprintln(w, "Participant:", v.ParticipantID)
		fmt.Fprintln(w, "Roles:  ", strings.Join(v.Roles, ", "))
		fmt.Fprint(w, "Local: ")
		cli.VersionPrinter(cctx)

		if !v.APIVersion.EqMajorMinor(build.APIVersion) {
			log.Warnf("daemon API version %s differs from local %s", v.APIVersion, build.APIVersion)
		}
		return nil
	},
}

var stopCmd = &cli.Command{
	Name:  "stop",
	Usage: "Stop a running dataspace node",
	Action: func(cctx *cli.Context) error {
		napi, closer, err := GetAPI(cctx)
		if err != nil {
			return err
		}
		defer closer()

		return napi.Shutdown(ReqContext(cctx))
	},
}

package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	cn "github.com/filecoin-project/go-dataspace/contractnegotiation"
	"github.com/filecoin-project/go-dataspace/journal"
	"github.com/filecoin-project/go-dataspace/journal/fsjournal"
)

var journalCmd = &cli.Command{
	Name:  "journal",
	Usage: "Inspect the local node journal",
	Subcommands: []*cli.Command{
		journalTailCmd,
	},
}

var journalTailCmd = &cli.Command{
	Name:  "tail",
	Usage: "Print the most recent journal entries",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:    "lines",
			Aliases: []string{"n"},
			Value:   20,
		},
		&cli.StringFlag{
			Name:  "negotiation",
			Usage: "only print the entries of this negotiation",
		},
	},
	Action: func(cctx *cli.Context) error {
		dir, err := fsjournal.Dir(cctx.String(RepoFlag.Name))
		if err != nil {
			return err
		}
		entries, err := fsjournal.Tail(dir, cctx.Int("lines"))
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cctx.App.Writer, 2, 4, 2, ' ', 0)
		fmt.Fprintf(w, "Time\tSystem\tEvent\tDetail\n")
		for _, e := range entries {
			detail := string(e.Data)
			if e.System == journal.NegotiationSystem {
				var evt journal.NegotiationEvt
				if err := json.Unmarshal(e.Data, &evt); err == nil {
					if f := cctx.String("negotiation"); f != "" && f != evt.ID {
						continue
					}
					detail = negotiationDetail(evt)
				}
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Timestamp, e.System, e.Event, detail)
		}
		return w.Flush()
	},
}

func negotiationDetail(evt journal.NegotiationEvt) string {
	state := evt.State
	if s, err := cn.ParseState(evt.State); err == nil {
		state = ColoredState(s)
	}
	out := fmt.Sprintf("%s %s %s", evt.Role, evt.ID, state)
	if evt.AgreementID != "" {
		out += " agreement=" + evt.AgreementID
	}
	if evt.ErrorDetail != "" {
		out += " error=" + evt.ErrorDetail
	}
	return out
}

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-dataspace/api"
	cn "github.com/filecoin-project/go-dataspace/contractnegotiation"
	"github.com/filecoin-project/go-dataspace/contractnegotiation/network/httpnet"
)

var negotiationCmd = &cli.Command{
	Name:    "negotiation",
	Aliases: []string{"cn"},
	Usage:   "Manage contract negotiations",
	Subcommands: []*cli.Command{
		negotiationListCmd,
		negotiationGetCmd,
		negotiationInitiateCmd,
		negotiationAcceptCmd,
		negotiationAgreeCmd,
		negotiationCounterCmd,
		negotiationDeclineCmd,
		negotiationCommandCmd("cancel", "Cancel a negotiation", api.Dataspace.NegotiationCancel),
		negotiationCommandCmd("terminate", "Terminate a negotiation", api.Dataspace.NegotiationTerminate),
		negotiationCommandCmd("force-decline", "Decline a negotiation bypassing the protocol", api.Dataspace.NegotiationForceDecline),
	},
}

var roleFlag = &cli.StringFlag{
	Name:  "role",
	Usage: "negotiations of which role: consumer or provider",
	Value: string(api.RoleConsumer),
}

var reasonFlag = &cli.StringFlag{
	Name:  "reason",
	Usage: "reason recorded with the negotiation and sent to the counter-party",
}

func parseRole(cctx *cli.Context) (api.Role, error) {
	switch r := api.Role(cctx.String(roleFlag.Name)); r {
	case api.RoleConsumer, api.RoleProvider:
		return r, nil
	default:
		return "", ShowHelp(cctx, xerrors.Errorf("unknown role %q", r))
	}
}

func negotiationID(cctx *cli.Context) (string, error) {
	if cctx.NArg() != 1 {
		return "", ShowHelp(cctx, xerrors.New("expected a negotiation id"))
	}
	return cctx.Args().First(), nil
}

// readOffer decodes a JSON encoded offer from a file, or stdin for "-"
func readOffer(path string) (cn.ContractOffer, error) {
	var offer cn.ContractOffer
	f := os.Stdin
	if path != "-" {
		var err error
		f, err = os.Open(path)
		if err != nil {
			return offer, err
		}
		defer f.Close() //nolint:errcheck
	}
	if err := json.NewDecoder(f).Decode(&offer); err != nil {
		return offer, xerrors.Errorf("decoding offer: %w", err)
	}
	return offer, nil
}

// BuildOffer assembles an offer for asset granting the given actions
func BuildOffer(provider, consumer, asset string, actions []string) cn.ContractOffer {
	rules := make([]cn.Rule, 0, len(actions))
	for _, a := range actions {
		rules = append(rules, cn.Rule{Action: a})
	}
	return cn.ContractOffer{
		ID:         uuid.NewString(),
		AssetID:    asset,
		ProviderID: provider,
		ConsumerID: consumer,
		Policy: cn.Policy{
			UID:         uuid.NewString(),
			Target:      asset,
			Assigner:    provider,
			Assignee:    consumer,
			Permissions: rules,
		},
	}
}

// ProviderAddress turns a provider's public URL into its negotiation endpoint
func ProviderAddress(url string) string {
	url = strings.TrimSuffix(url, "/")
	if strings.HasSuffix(url, httpnet.ProviderPath) {
		return url
	}
	return url + httpnet.ProviderPath
}

func printNegotiation(cctx *cli.Context, n cn.ContractNegotiation) error {
	if cctx.Bool("json") {
		enc := json.NewEncoder(cctx.App.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(n)
	}

	now := time.Now()
	w := tabwriter.NewWriter(cctx.App.Writer, 2, 4, 2, ' ', 0)
	fmt.Fprintf(w, "ID:\t%s\n", n.ID)
	fmt.Fprintf(w, "Role:\t%s\n", strings.ToLower(n.Type.String()))
	fmt.Fprintf(w, "State:\t%s (%s)\n", ColoredState(n.State), Since(now, n.StateTimestamp))
	fmt.Fprintf(w, "Correlation ID:\t%s\n", n.CorrelationID)
	fmt.Fprintf(w, "Counter-party:\t%s\n", n.CounterPartyID)
	fmt.Fprintf(w, "Address:\t%s\n", n.CounterPartyAddress)
	fmt.Fprintf(w, "Created:\t%s\n", Since(now, n.CreatedAt))
	fmt.Fprintf(w, "Offers:\t%d\n", len(n.Offers))
	if last, ok := n.LastOffer(); ok {
		fmt.Fprintf(w, "Last offer:\t%s (asset %s)\n", last.ID, last.AssetID)
	}
	if n.Agreement != nil {
		fmt.Fprintf(w, "Agreement:\t%s (signed %s)\n", n.Agreement.ID, Since(now, n.Agreement.SigningDate))
	}
	if n.RetryCount > 0 {
		fmt.Fprintf(w, "Retries:\t%d (next %s)\n", n.RetryCount, n.NextAttempt.Format(time.RFC3339))
	}
	if n.ErrorDetail != "" {
		fmt.Fprintf(w, "Error:\t%s\n", n.ErrorDetail)
	}
	return w.Flush()
}

var jsonFlag = &cli.BoolFlag{
	Name:  "json",
	Usage: "print the negotiation as JSON",
}

var negotiationListCmd = &cli.Command{
	Name:  "list",
	Usage: "List negotiations",
	Flags: []cli.Flag{
		roleFlag,
		&cli.BoolFlag{
			Name:  "active",
			Usage: "only list negotiations that have not finished",
		},
	},
	Action: func(cctx *cli.Context) error {
		napi, closer, err := GetAPI(cctx)
		if err != nil {
			return err
		}
		defer closer()
		ctx := ReqContext(cctx)

		role, err := parseRole(cctx)
		if err != nil {
			return err
		}
		list, err := napi.NegotiationList(ctx, role)
		if err != nil {
			return err
		}
		sort.Slice(list, func(i, j int) bool {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		})

		now := time.Now()
		w := tabwriter.NewWriter(cctx.App.Writer, 2, 4, 2, ' ', 0)
		fmt.Fprintf(w, "ID\tCounter-party\tState\tOffers\tUpdated\tMessage\n")
		for _, n := range list {
			if cctx.Bool("active") && n.State.IsTerminal() {
				continue
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n", n.ID, n.CounterPartyID, ColoredState(n.State), len(n.Offers), Since(now, n.StateTimestamp), n.ErrorDetail)
		}
		return w.Flush()
	},
}

var negotiationGetCmd = &cli.Command{
	Name:      "get",
	Usage:     "Show a negotiation",
	ArgsUsage: "<negotiationId>",
	Flags:     []cli.Flag{roleFlag, jsonFlag},
	Action: func(cctx *cli.Context) error {
		napi, closer, err := GetAPI(cctx)
		if err != nil {
			return err
		}
		defer closer()
		ctx := ReqContext(cctx)

		role, err := parseRole(cctx)
		if err != nil {
			return err
		}
		id, err := negotiationID(cctx)
		if err != nil {
			return err
		}
		n, err := napi.NegotiationGet(ctx, role, id)
		if err != nil {
			return err
		}
		return printNegotiation(cctx, n)
	},
}

var negotiationInitiateCmd = &cli.Command{
	Name:  "initiate",
	Usage: "Request a contract from a provider",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "provider",
			Usage:    "participant id of the provider",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "provider-url",
			Usage:    "public URL of the provider node",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "offer",
			Usage: "JSON offer file, - for stdin; built from --asset and --action when unset",
		},
		&cli.StringFlag{
			Name:  "asset",
			Usage: "asset to request",
		},
		&cli.StringSliceFlag{
			Name:  "action",
			Usage: "actions to request permission for",
			Value: cli.NewStringSlice("use"),
		},
		jsonFlag,
	},
	Action: func(cctx *cli.Context) error {
		napi, closer, err := GetAPI(cctx)
		if err != nil {
			return err
		}
		defer closer()
		ctx := ReqContext(cctx)

		var offer cn.ContractOffer
		switch {
		case cctx.IsSet("offer"):
			offer, err = readOffer(cctx.String("offer"))
			if err != nil {
				return err
			}
		case cctx.IsSet("asset"):
			v, err := napi.Version(ctx)
			if err != nil {
				return err
			}
			offer = BuildOffer(cctx.String("provider"), v.ParticipantID, cctx.String("asset"), cctx.StringSlice("action"))
		default:
			return ShowHelp(cctx, xerrors.New("one of --offer or --asset must be set"))
		}

		n, err := napi.NegotiationInitiate(ctx, cn.OfferRequest{
			ProviderID:      cctx.String("provider"),
			ProviderAddress: ProviderAddress(cctx.String("provider-url")),
			Protocol:        httpnet.Protocol,
			Offer:           offer,
		})
		if err != nil {
			return err
		}
		if cctx.Bool("json") {
			return printNegotiation(cctx, n)
		}
		fmt.Fprintln(cctx.App.Writer, n.ID)
		return nil
	},
}

var negotiationAcceptCmd = &cli.Command{
	Name:      "accept",
	Usage:     "Accept the provider's last offer",
	ArgsUsage: "<negotiationId>",
	Action: func(cctx *cli.Context) error {
		napi, closer, err := GetAPI(cctx)
		if err != nil {
			return err
		}
		defer closer()

		id, err := negotiationID(cctx)
		if err != nil {
			return err
		}
		n, err := napi.NegotiationAccept(ReqContext(cctx), id)
		if err != nil {
			return err
		}
		fmt.Fprintf(cctx.App.Writer, "%s: %s\n", n.ID, ColoredState(n.State))
		return nil
	},
}

var negotiationAgreeCmd = &cli.Command{
	Name:      "agree",
	Usage:     "Agree to the consumer's last offer",
	ArgsUsage: "<negotiationId>",
	Action: func(cctx *cli.Context) error {
		napi, closer, err := GetAPI(cctx)
		if err != nil {
			return err
		}
		defer closer()

		id, err := negotiationID(cctx)
		if err != nil {
			return err
		}
		n, err := napi.NegotiationAgree(ReqContext(cctx), id)
		if err != nil {
			return err
		}
		fmt.Fprintf(cctx.App.Writer, "%s: %s\n", n.ID, ColoredState(n.State))
		return nil
	},
}

var negotiationCounterCmd = &cli.Command{
	Name:      "counter",
	Usage:     "Answer the last offer with a counter-offer",
	ArgsUsage: "<negotiationId>",
	Flags: []cli.Flag{
		roleFlag,
		&cli.StringFlag{
			Name:     "offer",
			Usage:    "JSON offer file, - for stdin",
			Required: true,
		},
	},
	Action: func(cctx *cli.Context) error {
		napi, closer, err := GetAPI(cctx)
		if err != nil {
			return err
		}
		defer closer()

		role, err := parseRole(cctx)
		if err != nil {
			return err
		}
		id, err := negotiationID(cctx)
		if err != nil {
			return err
		}
		offer, err := readOffer(cctx.String("offer"))
		if err != nil {
			return err
		}
		n, err := napi.NegotiationCounter(ReqContext(cctx), role, id, offer)
		if err != nil {
			return err
		}
		fmt.Fprintf(cctx.App.Writer, "%s: %s\n", n.ID, ColoredState(n.State))
		return nil
	},
}

var negotiationDeclineCmd = &cli.Command{
	Name:      "decline",
	Usage:     "Decline the last offer",
	ArgsUsage: "<negotiationId>",
	Flags:     []cli.Flag{roleFlag, reasonFlag},
	Action: func(cctx *cli.Context) error {
		napi, closer, err := GetAPI(cctx)
		if err != nil {
			return err
		}
		defer closer()

		role, err := parseRole(cctx)
		if err != nil {
			return err
		}
		id, err := negotiationID(cctx)
		if err != nil {
			return err
		}
		n, err := napi.NegotiationDecline(ReqContext(cctx), role, id, cctx.String(reasonFlag.Name))
		if err != nil {
			return err
		}
		fmt.Fprintf(cctx.App.Writer, "%s: %s\n", n.ID, ColoredState(n.State))
		return nil
	},
}

type commandFunc func(a api.Dataspace, ctx context.Context, role api.Role, id string, reason string) error

// negotiationCommandCmd builds the commands that queue work for the engine
// rather than answering a pending decision
func negotiationCommandCmd(name, usage string, call commandFunc) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "<negotiationId>",
		Flags:     []cli.Flag{roleFlag, reasonFlag},
		Action: func(cctx *cli.Context) error {
			napi, closer, err := GetAPI(cctx)
			if err != nil {
				return err
			}
			defer closer()

			role, err := parseRole(cctx)
			if err != nil {
				return err
			}
			id, err := negotiationID(cctx)
			if err != nil {
				return err
			}
			if err := call(napi, ReqContext(cctx), role, id, cctx.String(reasonFlag.Name)); err != nil {
				return err
			}
			fmt.Fprintf(cctx.App.Writer, "%s: %s queued\n", id, name)
			return nil
		},
	}
}

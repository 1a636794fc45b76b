package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/filecoin-project/go-jsonrpc"
	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-dataspace/api"
	"github.com/filecoin-project/go-dataspace/api/client"
	"github.com/filecoin-project/go-dataspace/node/repo"
)

var log = logging.Logger("cli")

const (
	metadataContext = "context"

	// APIInfoEnv overrides the repo as the source of the API address and token,
	// in the form "token:host:port" or "host:port"
	APIInfoEnv = "DATASPACE_API_INFO"
)

// RepoFlag is the global flag pointing commands at a node repo
var RepoFlag = &cli.StringFlag{
	Name:    "repo",
	EnvVars: []string{"DATASPACE_PATH"},
	Value:   "~/.dataspace",
	Usage:   "node repo path",
}

// APIInfo is where a node serves its API and the token to call it with
type APIInfo struct {
	Addr  string
	Token []byte
}

func (a APIInfo) DialArgs() string {
	return "ws://" + a.Addr + "/rpc/v0"
}

func (a APIInfo) AuthHeader() http.Header {
	if len(a.Token) == 0 {
		return nil
	}
	headers := http.Header{}
	headers.Add("Authorization", "Bearer "+string(a.Token))
	return headers
}

// ParseAPIInfo reads the APIInfoEnv format
func ParseAPIInfo(s string) (APIInfo, error) {
	parts := strings.Split(s, ":")
	switch len(parts) {
	case 2:
		return APIInfo{Addr: s}, nil
	case 3:
		return APIInfo{Addr: parts[1] + ":" + parts[2], Token: []byte(parts[0])}, nil
	default:
		return APIInfo{}, xerrors.Errorf("malformed api info %q", s)
	}
}

// GetAPIInfo finds the API of the node, from the environment or the repo
func GetAPIInfo(cctx *cli.Context) (APIInfo, error) {
	if env, ok := os.LookupEnv(APIInfoEnv); ok {
		return ParseAPIInfo(env)
	}

	r, err := repo.NewFS(cctx.String(RepoFlag.Name))
	if err != nil {
		return APIInfo{}, err
	}

	addr, err := r.APIEndpoint()
	if err != nil {
		return APIInfo{}, xerrors.Errorf("failed to get api endpoint (%s): %w", cctx.String(RepoFlag.Name), err)
	}
	info := APIInfo{Addr: addr}

	token, err := r.APIToken()
	if err != nil {
		log.Warnf("Couldn't load CLI token, capabilities may be limited: %v", err)
	} else {
		info.Token = token
	}
	return info, nil
}

// GetAPI connects to the node's management API
func GetAPI(cctx *cli.Context) (api.Dataspace, jsonrpc.ClientCloser, error) {
	info, err := GetAPIInfo(cctx)
	if err != nil {
		return nil, nil, err
	}
	return client.NewDataspaceRPC(cctx.Context, info.DialArgs(), info.AuthHeader())
}

// ReqContext returns context for cli execution. Calling it for the first time
// installs SIGTERM handler that will close returned context.
// Not safe for concurrent execution.
func ReqContext(cctx *cli.Context) context.Context {
	if uctx, ok := cctx.App.Metadata[metadataContext]; ok {
		// unchecked cast as if something else is in there
		// it is crash worthy either way
		return uctx.(context.Context)
	}

	ctx, done := context.WithCancel(cctx.Context)
	sigChan := make(chan os.Signal, 2)
	go func() {
		<-sigChan
		done()
	}()
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	if cctx.App.Metadata == nil {
		cctx.App.Metadata = map[string]interface{}{}
	}
	cctx.App.Metadata[metadataContext] = ctx
	return ctx
}

var Commands = []*cli.Command{
	authCmd,
	negotiationCmd,
	journalCmd,
	versionCmd,
	stopCmd,
}

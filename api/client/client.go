package client

import (
	"context"
	"net/http"

	"github.com/filecoin-project/go-jsonrpc"

	"github.com/filecoin-project/go-dataspace/api"
	"github.com/filecoin-project/go-dataspace/api/apistruct"
)

// Namespace is the jsonrpc namespace the node registers its API under
const Namespace = "Dataspace"

// NewDataspaceRPC creates a new http jsonrpc client.
func NewDataspaceRPC(ctx context.Context, addr string, requestHeader http.Header) (api.Dataspace, jsonrpc.ClientCloser, error) {
	var res apistruct.DataspaceStruct
	closer, err := jsonrpc.NewMergeClient(ctx, addr, Namespace,
		[]interface{}{
			&res.CommonStruct.Internal,
			&res.Internal,
		}, requestHeader)

	return &res, closer, err
}

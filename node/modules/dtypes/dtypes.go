package dtypes

import (
	"net/http"

	"github.com/gbrlsnchs/jwt/v3"
	"github.com/ipfs/go-datastore"

	cn "github.com/filecoin-project/go-dataspace/contractnegotiation"
)

// MetadataDS stores negotiations of both roles when a datastore backend is configured
type MetadataDS datastore.Batching

// ConsumerStore persists the negotiations this node started
type ConsumerStore cn.Store

// ProviderStore persists the negotiations peers opened with this node
type ProviderStore cn.Store

// APIAlg signs management API tokens
type APIAlg jwt.HMACSHA

// APIEndpoint is the address the management API listens on
type APIEndpoint string

// PeerHandler serves the negotiation endpoints peers call
type PeerHandler http.Handler

// MetricsHandler serves the prometheus scrape endpoint
type MetricsHandler http.Handler

// ShutdownChan is closed to ask the node to shut down
type ShutdownChan chan struct{}

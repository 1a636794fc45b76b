package api

import (
	"context"

	"github.com/filecoin-project/go-jsonrpc/auth"

	"github.com/filecoin-project/go-dataspace/build"
	cn "github.com/filecoin-project/go-dataspace/contractnegotiation"
)

// Version provides various build-time information
type Version struct {
	Version       string
	APIVersion    build.Version
	ParticipantID string
	Roles         []string
}

// Role selects which engine a call is addressed to
type Role string

const (
	RoleConsumer Role = "consumer"
	RoleProvider Role = "provider"
)

// Common is shared by every API the node serves
type Common interface {
	AuthVerify(ctx context.Context, token string) ([]auth.Permission, error)
	AuthNew(ctx context.Context, perms []auth.Permission) ([]byte, error)

	// Version provides information about API provider
	Version(context.Context) (Version, error)

	// Shutdown asks the node to stop
	Shutdown(context.Context) error
}

// Dataspace is the management interface of a connector
type Dataspace interface {
	Common

	// NegotiationList returns every negotiation of the given role
	NegotiationList(ctx context.Context, role Role) ([]cn.ContractNegotiation, error)
	// NegotiationGet returns one negotiation by its local id
	NegotiationGet(ctx context.Context, role Role, id string) (cn.ContractNegotiation, error)

	// NegotiationInitiate starts a consumer negotiation with a provider
	NegotiationInitiate(ctx context.Context, req cn.OfferRequest) (cn.ContractNegotiation, error)

	// NegotiationAccept accepts the last offer of a consumer negotiation
	// waiting for a decision
	NegotiationAccept(ctx context.Context, id string) (cn.ContractNegotiation, error)
	// NegotiationAgree agrees to the last offer of a provider negotiation
	// waiting for a decision
	NegotiationAgree(ctx context.Context, id string) (cn.ContractNegotiation, error)
	// NegotiationCounter answers the last offer with a counter offer
	NegotiationCounter(ctx context.Context, role Role, id string, offer cn.ContractOffer) (cn.ContractNegotiation, error)
	// NegotiationDecline declines a negotiation waiting for a decision
	NegotiationDecline(ctx context.Context, role Role, id string, reason string) (cn.ContractNegotiation, error)

	// NegotiationCancel queues a local cancellation, the peer is not notified
	NegotiationCancel(ctx context.Context, role Role, id string, reason string) error
	// NegotiationTerminate queues a termination the peer is notified of
	NegotiationTerminate(ctx context.Context, role Role, id string, reason string) error
	// NegotiationForceDecline queues a decline that applies in any non final state
	NegotiationForceDecline(ctx context.Context, role Role, id string, reason string) error
}

package apistruct

import (
	"context"

	"github.com/filecoin-project/go-jsonrpc/auth"

	"github.com/filecoin-project/go-dataspace/api"
	cn "github.com/filecoin-project/go-dataspace/contractnegotiation"
)

// All permissions are listed in permissioned.go
var _ = api.AllPermissions

type CommonStruct struct {
	Internal struct {
		AuthVerify func(ctx context.Context, token string) ([]auth.Permission, error) `perm:"read"`
		AuthNew    func(ctx context.Context, perms []auth.Permission) ([]byte, error) `perm:"admin"`

		Version  func(context.Context) (api.Version, error) `perm:"read"`
		Shutdown func(context.Context) error                `perm:"admin"`
	}
}

// DataspaceStruct implements API passing calls to user-provided function values.
type DataspaceStruct struct {
	CommonStruct

	Internal struct {
		NegotiationList     func(ctx context.Context, role api.Role) ([]cn.ContractNegotiation, error)          `perm:"read"`
		NegotiationGet      func(ctx context.Context, role api.Role, id string) (cn.ContractNegotiation, error) `perm:"read"`
		NegotiationInitiate func(ctx context.Context, req cn.OfferRequest) (cn.ContractNegotiation, error)      `perm:"write"`

		NegotiationAccept  func(ctx context.Context, id string) (cn.ContractNegotiation, error)                                        `perm:"write"`
		NegotiationAgree   func(ctx context.Context, id string) (cn.ContractNegotiation, error)                                        `perm:"write"`
		NegotiationCounter func(ctx context.Context, role api.Role, id string, offer cn.ContractOffer) (cn.ContractNegotiation, error) `perm:"write"`
		NegotiationDecline func(ctx context.Context, role api.Role, id string, reason string) (cn.ContractNegotiation, error)          `perm:"write"`

		NegotiationCancel       func(ctx context.Context, role api.Role, id string, reason string) error `perm:"admin"`
		NegotiationTerminate    func(ctx context.Context, role api.Role, id string, reason string) error `perm:"admin"`
		NegotiationForceDecline func(ctx context.Context, role api.Role, id string, reason string) error `perm:"admin"`
	}
}

func (c *CommonStruct) AuthVerify(ctx context.Context, token string) ([]auth.Permission, error) {
	return c.Internal.AuthVerify(ctx, token)
}

func (c *CommonStruct) AuthNew(ctx context.Context, perms []auth.Permission) ([]byte, error) {
	return c.Internal.AuthNew(ctx, perms)
}

// Version implements API.Version
func (c *CommonStruct) Version(ctx context.Context) (api.Version, error) {
	return c.Internal.Version(ctx)
}

func (c *CommonStruct) Shutdown(ctx context.Context) error {
	return c.Internal.Shutdown(ctx)
}

func (c *DataspaceStruct) NegotiationList(ctx context.Context, role api.Role) ([]cn.ContractNegotiation, error) {
	return c.Internal.NegotiationList(ctx, role)
}

func (c *DataspaceStruct) NegotiationGet(ctx context.Context, role api.Role, id string) (cn.ContractNegotiation, error) {
	return c.Internal.NegotiationGet(ctx, role, id)
}

func (c *DataspaceStruct) NegotiationInitiate(ctx context.Context, req cn.OfferRequest) (cn.ContractNegotiation, error) {
	return c.Internal.NegotiationInitiate(ctx, req)
}

func (c *DataspaceStruct) NegotiationAccept(ctx context.Context, id string) (cn.ContractNegotiation, error) {
	return c.Internal.NegotiationAccept(ctx, id)
}

func (c *DataspaceStruct) NegotiationAgree(ctx context.Context, id string) (cn.ContractNegotiation, error) {
	return c.Internal.NegotiationAgree(ctx, id)
}

func (c *DataspaceStruct) NegotiationCounter(ctx context.Context, role api.Role, id string, offer cn.ContractOffer) (cn.ContractNegotiation, error) {
	return c.Internal.NegotiationCounter(ctx, role, id, offer)
}

func (c *DataspaceStruct) NegotiationDecline(ctx context.Context, role api.Role, id string, reason string) (cn.ContractNegotiation, error) {
	return c.Internal.NegotiationDecline(ctx, role, id, reason)
}

func (c *DataspaceStruct) NegotiationCancel(ctx context.Context, role api.Role, id string, reason string) error {
	return c.Internal.NegotiationCancel(ctx, role, id, reason)
}

func (c *DataspaceStruct) NegotiationTerminate(ctx context.Context, role api.Role, id string, reason string) error {
	return c.Internal.NegotiationTerminate(ctx, role, id, reason)
}

func (c *DataspaceStruct) NegotiationForceDecline(ctx context.Context, role api.Role, id string, reason string) error {
	return c.Internal.NegotiationForceDecline(ctx, role, id, reason)
}

var _ api.Common = &CommonStruct{}
var _ api.Dataspace = &DataspaceStruct{}

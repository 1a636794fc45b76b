package impl

import (
	"context"

	"github.com/filecoin-project/go-jsonrpc/auth"
	logging "github.com/ipfs/go-log/v2"
	"github.com/samber/lo"
	"go.uber.org/fx"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-dataspace/api"
	"github.com/filecoin-project/go-dataspace/build"
	cn "github.com/filecoin-project/go-dataspace/contractnegotiation"
	cnimpl "github.com/filecoin-project/go-dataspace/contractnegotiation/impl"
	"github.com/filecoin-project/go-dataspace/node/config"
	"github.com/filecoin-project/go-dataspace/node/modules"
	"github.com/filecoin-project/go-dataspace/node/modules/dtypes"
)

var log = logging.Logger("node")

type CommonAPI struct {
	fx.In

	APISecret    *dtypes.APIAlg
	Config       *config.Node
	ShutdownChan dtypes.ShutdownChan
}

func (a *CommonAPI) AuthVerify(ctx context.Context, token string) ([]auth.Permission, error) {
	return modules.AuthVerify(a.APISecret, token)
}

func (a *CommonAPI) AuthNew(ctx context.Context, perms []auth.Permission) ([]byte, error) {
	return modules.AuthNew(a.APISecret, perms)
}

func (a *CommonAPI) Version(context.Context) (api.Version, error) {
	roles := lo.Filter([]string{config.RoleConsumer, config.RoleProvider}, func(r string, _ int) bool {
		return a.Config.HasRole(r)
	})
	return api.Version{
		Version:       build.UserVersion(),
		APIVersion:    build.APIVersion,
		ParticipantID: a.Config.ParticipantID,
		Roles:         roles,
	}, nil
}

func (a *CommonAPI) Shutdown(ctx context.Context) error {
	select {
	case a.ShutdownChan <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DataspaceAPI serves the management API from the engines the node runs.
// An engine is nil when its role is not enabled.
type DataspaceAPI struct {
	CommonAPI

	Consumer *cnimpl.Consumer `optional:"true"`
	Provider *cnimpl.Provider `optional:"true"`
}

var _ api.Dataspace = &DataspaceAPI{}

// engine is what both role managers offer to the API
type engine interface {
	Get(ctx context.Context, id string) (cn.ContractNegotiation, error)
	List(ctx context.Context) ([]cn.ContractNegotiation, error)
	Counter(ctx context.Context, id string, offer cn.ContractOffer) (cn.ContractNegotiation, error)
	Decline(ctx context.Context, id string, reason string) (cn.ContractNegotiation, error)
	Enqueue(cmd cnimpl.Command) error
}

func (a *DataspaceAPI) engine(role api.Role) (engine, error) {
	switch role {
	case api.RoleConsumer:
		if a.Consumer != nil {
			return a.Consumer, nil
		}
	case api.RoleProvider:
		if a.Provider != nil {
			return a.Provider, nil
		}
	default:
		return nil, xerrors.Errorf("unknown role %q", role)
	}
	return nil, xerrors.Errorf("%s role is not enabled on this node", role)
}

func (a *DataspaceAPI) NegotiationList(ctx context.Context, role api.Role) ([]cn.ContractNegotiation, error) {
	e, err := a.engine(role)
	if err != nil {
		return nil, err
	}
	return e.List(ctx)
}

func (a *DataspaceAPI) NegotiationGet(ctx context.Context, role api.Role, id string) (cn.ContractNegotiation, error) {
	e, err := a.engine(role)
	if err != nil {
		return cn.ContractNegotiation{}, err
	}
	return e.Get(ctx, id)
}

func (a *DataspaceAPI) NegotiationInitiate(ctx context.Context, req cn.OfferRequest) (cn.ContractNegotiation, error) {
	if a.Consumer == nil {
		return cn.ContractNegotiation{}, xerrors.Errorf("%s role is not enabled on this node", api.RoleConsumer)
	}
	return a.Consumer.Initiate(ctx, req)
}

func (a *DataspaceAPI) NegotiationAccept(ctx context.Context, id string) (cn.ContractNegotiation, error) {
	if a.Consumer == nil {
		return cn.ContractNegotiation{}, xerrors.Errorf("%s role is not enabled on this node", api.RoleConsumer)
	}
	return a.Consumer.Accept(ctx, id)
}

func (a *DataspaceAPI) NegotiationAgree(ctx context.Context, id string) (cn.ContractNegotiation, error) {
	if a.Provider == nil {
		return cn.ContractNegotiation{}, xerrors.Errorf("%s role is not enabled on this node", api.RoleProvider)
	}
	return a.Provider.Agree(ctx, id)
}

func (a *DataspaceAPI) NegotiationCounter(ctx context.Context, role api.Role, id string, offer cn.ContractOffer) (cn.ContractNegotiation, error) {
	e, err := a.engine(role)
	if err != nil {
		return cn.ContractNegotiation{}, err
	}
	return e.Counter(ctx, id, offer)
}

func (a *DataspaceAPI) NegotiationDecline(ctx context.Context, role api.Role, id string, reason string) (cn.ContractNegotiation, error) {
	e, err := a.engine(role)
	if err != nil {
		return cn.ContractNegotiation{}, err
	}
	return e.Decline(ctx, id, reason)
}

func (a *DataspaceAPI) enqueue(ctx context.Context, role api.Role, cmd cnimpl.Command) error {
	e, err := a.engine(role)
	if err != nil {
		return err
	}
	if _, err := e.Get(ctx, cmd.NegotiationID()); err != nil {
		return err
	}
	if err := e.Enqueue(cmd); err != nil {
		return err
	}
	log.Infow("negotiation command queued", "role", role, "id", cmd.NegotiationID(), "command", lo.Must(commandName(cmd)))
	return nil
}

func commandName(cmd cnimpl.Command) (string, error) {
	switch cmd.(type) {
	case cnimpl.CancelNegotiation:
		return "cancel", nil
	case cnimpl.TerminateNegotiation:
		return "terminate", nil
	case cnimpl.DeclineNegotiation:
		return "decline", nil
	default:
		return "", xerrors.Errorf("unknown command %T", cmd)
	}
}

func (a *DataspaceAPI) NegotiationCancel(ctx context.Context, role api.Role, id string, reason string) error {
	return a.enqueue(ctx, role, cnimpl.CancelNegotiation{ID: id, Reason: reason})
}

func (a *DataspaceAPI) NegotiationTerminate(ctx context.Context, role api.Role, id string, reason string) error {
	return a.enqueue(ctx, role, cnimpl.TerminateNegotiation{ID: id, Reason: reason})
}

func (a *DataspaceAPI) NegotiationForceDecline(ctx context.Context, role api.Role, id string, reason string) error {
	return a.enqueue(ctx, role, cnimpl.DeclineNegotiation{ID: id, Reason: reason})
}

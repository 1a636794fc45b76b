package node

import (
	"context"

	logging "github.com/ipfs/go-log/v2"
	"go.uber.org/fx"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-dataspace/api"
	cn "github.com/filecoin-project/go-dataspace/contractnegotiation"
	cnimpl "github.com/filecoin-project/go-dataspace/contractnegotiation/impl"
	"github.com/filecoin-project/go-dataspace/contractnegotiation/network/httpnet"
	"github.com/filecoin-project/go-dataspace/journal"
	"github.com/filecoin-project/go-dataspace/node/config"
	"github.com/filecoin-project/go-dataspace/node/impl"
	"github.com/filecoin-project/go-dataspace/node/modules"
	"github.com/filecoin-project/go-dataspace/node/modules/dtypes"
	"github.com/filecoin-project/go-dataspace/node/modules/helpers"
	"github.com/filecoin-project/go-dataspace/node/repo"
)

//nolint:deadcode,varcheck
var log = logging.Logger("builder")

// special is a type used to give keys to modules which
// can't really be identified by the returned type
type special struct{ id int }

type invoke int

// Invokes are called in the order they are defined.
//
//nolint:golint
const (
	// SetupLoggingKey applies the configured log levels before anything logs
	SetupLoggingKey = invoke(iota)

	RecordNodeInfoKey

	// engines, in the order their lifecycle hooks are appended
	StartConsumerKey
	StartProviderKey

	ServeTransportKey
	ServeAPIKey

	ExtractApiKey

	_nInvokes // keep this last
)

type Settings struct {
	// modules is a map of constructors for DI
	//
	// In most cases the index will be a reflect. Type of element returned by
	// the constructor, but for some 'constructors' it's hard to specify what's
	// the return type should be (or the constructor returns fx group)
	modules map[interface{}]fx.Option

	// invokes are separate from modules as they can't be referenced by return
	// type, and must be applied in correct order
	invokes []fx.Option

	Config bool // Config option applied
}

func defaults() []Option {
	return []Option{
		Override(new(helpers.MetricsCtx), context.Background),
		Override(new(dtypes.ShutdownChan), make(chan struct{})),

		Override(new(journal.Journal), journal.NilJournal),
		Override(new(dtypes.MetricsHandler), modules.NilMetricsHandler),
	}
}

// Repo sets up the node from a repo: its config selects the roles, the
// store backend and the optional services. The overrides are applied to the
// loaded config, e.g. for command line flags.
func Repo(r repo.Repo, overrides ...func(*config.Node)) Option {
	return func(settings *Settings) error {
		lr, err := r.Lock()
		if err != nil {
			return err
		}
		c, err := lr.Config()
		if err != nil {
			return err
		}
		for _, o := range overrides {
			o(c)
		}

		return Options(
			Override(new(repo.LockedRepo), modules.LockedRepo(lr)), // module handles closing

			Override(new(*dtypes.APIAlg), modules.APISecret),

			ConfigNode(c),
		)(settings)
	}
}

// ConfigNode sets up constructors based on the provided config
func ConfigNode(cfg *config.Node) Option {
	return Options(
		func(s *Settings) error { s.Config = true; return nil },

		Override(new(*config.Node), modules.Config),
		Override(SetupLoggingKey, modules.SetupLogLevels),

		Override(new(*httpnet.Auth), modules.PeerAuth),
		Override(new(cn.Dispatcher), modules.Dispatcher),
		Override(new(cn.Validator), modules.Validator),
		Override(new(cn.DeciderFunc), modules.Decider),

		If(cfg.Store.Backend == config.BackendLevelDB || cfg.Store.Backend == config.BackendBadger,
			Override(new(dtypes.MetadataDS), modules.Datastore),
		),

		If(cfg.HasRole(config.RoleConsumer),
			Override(new(dtypes.ConsumerStore), modules.ConsumerStore),
			Override(new(*cnimpl.Consumer), modules.Consumer),
			Override(StartConsumerKey, func(*cnimpl.Consumer) {}),
		),
		If(cfg.HasRole(config.RoleProvider),
			Override(new(dtypes.ProviderStore), modules.ProviderStore),
			Override(new(*cnimpl.Provider), modules.Provider),
			Override(StartProviderKey, func(*cnimpl.Provider) {}),
		),

		If(cfg.Journal.Enabled,
			Override(new(journal.DisabledEvents), modules.DisabledEvents),
			Override(new(journal.Journal), modules.OpenFilesystemJournal),
		),
		If(cfg.Metrics.Enabled,
			Override(new(dtypes.MetricsHandler), modules.MetricsHandler),
			Override(RecordNodeInfoKey, modules.RecordNodeInfo),
		),

		Override(new(dtypes.PeerHandler), modules.PeerHandler),
		Override(ServeTransportKey, modules.ServeTransport),
	)
}

// DataspaceAPI extracts the management API into out, and serves it when
// serve is set
func DataspaceAPI(out *api.Dataspace, serve bool) Option {
	return Options(
		Override(new(api.Dataspace), From(new(impl.DataspaceAPI))),
		If(serve,
			Override(ServeAPIKey, modules.ServeAPI),
		),
		func(s *Settings) error {
			resAPI := &impl.DataspaceAPI{}
			s.invokes[ExtractApiKey] = fx.Populate(resAPI)
			*out = resAPI
			return nil
		},
	)
}

type StopFunc func(context.Context) error

// New builds and starts new dataspace node
func New(ctx context.Context, opts ...Option) (StopFunc, error) {
	settings := Settings{
		modules: map[interface{}]fx.Option{},
		invokes: make([]fx.Option, _nInvokes),
	}

	// apply module options in the right order
	if err := Options(Options(defaults()...), Options(opts...))(&settings); err != nil {
		return nil, xerrors.Errorf("applying node options failed: %w", err)
	}
	if !settings.Config {
		return nil, xerrors.New("node has no config, use Repo or ConfigNode")
	}

	// gather constructors for fx.Options
	ctors := make([]fx.Option, 0, len(settings.modules))
	for _, opt := range settings.modules {
		ctors = append(ctors, opt)
	}

	// fill holes in invokes for use in fx.Options
	for i, opt := range settings.invokes {
		if opt == nil {
			settings.invokes[i] = fx.Options()
		}
	}

	app := fx.New(
		fx.Options(ctors...),
		fx.Options(settings.invokes...),

		fx.NopLogger,
	)

	if err := app.Start(ctx); err != nil {
		// comment fx.NopLogger few lines above for easier debugging
		return nil, xerrors.Errorf("starting node: %w", err)
	}

	return app.Stop, nil
}

package modules

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/fx"

	cn "github.com/filecoin-project/go-dataspace/contractnegotiation"
	cnimpl "github.com/filecoin-project/go-dataspace/contractnegotiation/impl"
	"github.com/filecoin-project/go-dataspace/contractnegotiation/impl/validation"
	"github.com/filecoin-project/go-dataspace/contractnegotiation/network"
	"github.com/filecoin-project/go-dataspace/contractnegotiation/network/httpnet"
	"github.com/filecoin-project/go-dataspace/journal"
	"github.com/filecoin-project/go-dataspace/lib/retry"
	"github.com/filecoin-project/go-dataspace/metrics"
	"github.com/filecoin-project/go-dataspace/node/config"
	"github.com/filecoin-project/go-dataspace/node/modules/dtypes"
	"github.com/filecoin-project/go-dataspace/node/modules/helpers"
)

// RoleURL is the address peers reach the role path at
func RoleURL(cfg *config.Node, path string) string {
	return strings.TrimSuffix(cfg.Transport.PublicURL, "/") + path
}

func engineConfig(cfg *config.Node, callback string) cnimpl.Config {
	n := cfg.Negotiation
	return cnimpl.Config{
		ParticipantID:    cfg.ParticipantID,
		CallbackAddress:  callback,
		TickInterval:     time.Duration(n.TickInterval),
		BatchSize:        n.BatchSize,
		DispatchTimeout:  time.Duration(n.DispatchTimeout),
		CommandQueueSize: n.CommandQueueSize,
		CommandBatchSize: n.CommandBatchSize,
		MaxOfferRounds:   n.MaxOfferRounds,
	}
}

// RetryPolicy builds the send retry policy from the config
func RetryPolicy(cfg *config.Node) retry.Policy {
	r := cfg.Negotiation.Retry
	return retry.ExponentialBackoff{
		Min:         time.Duration(r.MinBackoff),
		Max:         time.Duration(r.MaxBackoff),
		Factor:      r.Factor,
		Jitter:      r.Jitter,
		MaxAttempts: r.MaxAttempts,
	}
}

func waitForDecision(context.Context, cn.ContractNegotiation, cn.ContractOffer) cn.Decision {
	return cn.Decision{Kind: cn.DecisionWait}
}

// Decider accepts valid offers, or leaves them for a decision through the API
func Decider(cfg *config.Node) cn.DeciderFunc {
	if cfg.Negotiation.AutoAccept {
		return cn.AcceptAll
	}
	return waitForDecision
}

// Validator checks what peers send against the local participant
func Validator(cfg *config.Node) cn.Validator {
	return validation.New(cfg.ParticipantID)
}

// Dispatcher posts messages to peers over HTTP and measures every send
func Dispatcher(cfg *config.Node, auth *httpnet.Auth) (cn.Dispatcher, error) {
	d, err := httpnet.NewDispatcher(httpnet.DispatcherConfig{
		ParticipantID: cfg.ParticipantID,
		Auth:          auth,
		Client: &http.Client{
			Timeout: time.Duration(cfg.Negotiation.DispatchTimeout),
		},
		RequestsPerSecond: cfg.Transport.PeerRequestsPerSecond,
		Burst:             cfg.Transport.PeerBurst,
	})
	if err != nil {
		return nil, err
	}
	return metrics.Dispatcher(d), nil
}

type EngineParams struct {
	fx.In

	MetricsCtx helpers.MetricsCtx
	Lifecycle  fx.Lifecycle
	Config     *config.Node
	Dispatcher cn.Dispatcher
	Validator  cn.Validator
	Decider    cn.DeciderFunc
	Journal    journal.Journal
}

type engine interface {
	Subscribe(cn.Subscriber) cn.Unsubscribe
	Start(context.Context) error
	Stop(context.Context) error
}

// runEngine subscribes the metrics and journal recorders and ties the tick
// loop to the node lifecycle
func runEngine(p EngineParams, e engine) {
	unsubMetrics := e.Subscribe(metrics.NegotiationRecorder(p.MetricsCtx))
	unsubJournal := e.Subscribe(journal.NegotiationRecorder(p.Journal))

	p.Lifecycle.Append(fx.Hook{
		OnStart: e.Start,
		OnStop: func(ctx context.Context) error {
			defer unsubJournal()
			defer unsubMetrics()
			return e.Stop(ctx)
		},
	})
}

func Consumer(p EngineParams, store dtypes.ConsumerStore) (*cnimpl.Consumer, error) {
	c, err := cnimpl.NewConsumer(engineConfig(p.Config, RoleURL(p.Config, httpnet.ConsumerPath)),
		store, p.Dispatcher, p.Validator,
		cnimpl.WithRetryPolicy(RetryPolicy(p.Config)),
		cnimpl.WithDecider(p.Decider),
	)
	if err != nil {
		return nil, err
	}
	runEngine(p, c)
	return c, nil
}

func Provider(p EngineParams, store dtypes.ProviderStore) (*cnimpl.Provider, error) {
	pr, err := cnimpl.NewProvider(engineConfig(p.Config, RoleURL(p.Config, httpnet.ProviderPath)),
		store, p.Dispatcher, p.Validator,
		cnimpl.WithRetryPolicy(RetryPolicy(p.Config)),
		cnimpl.WithDecider(p.Decider),
	)
	if err != nil {
		return nil, err
	}
	runEngine(p, pr)
	return pr, nil
}

type ReceiverParams struct {
	fx.In

	Config   *config.Node
	Auth     *httpnet.Auth
	Consumer *cnimpl.Consumer `optional:"true"`
	Provider *cnimpl.Provider `optional:"true"`
}

// PeerHandler routes peer messages to the engines this node runs
func PeerHandler(p ReceiverParams) dtypes.PeerHandler {
	cfg := httpnet.ServerConfig{
		Auth:              p.Auth,
		RequestsPerSecond: p.Config.Transport.RequestsPerSecond,
		Burst:             p.Config.Transport.Burst,
	}
	if p.Consumer != nil {
		cfg.Consumer = network.NewConsumerReceiver(p.Consumer)
	}
	if p.Provider != nil {
		cfg.Provider = network.NewProviderReceiver(p.Provider)
	}
	return httpnet.NewHandler(cfg)
}

package config

// // NOTE: ONLY PUT STRUCT DEFINITIONS IN THIS FILE

// Node is the connector configuration stored in the repo's config.toml
type Node struct {
	// ParticipantID identifies this connector to its peers. It is the subject of
	// every token the connector signs.
	ParticipantID string

	API         API
	Negotiation Negotiation
	Store       Store
	Transport   Transport
	Metrics     Metrics
	Journal     Journal
	Logging     Logging
}

// API configures the local management endpoint
type API struct {
	// Binding address for the management API. Negotiations are listed, started
	// and cancelled through it.
	ListenAddress string
	Timeout       Duration
}

// Negotiation configures the negotiation engines
type Negotiation struct {
	// Roles run by this connector: "consumer", "provider" or "both".
	Roles string

	// How often each engine looks for negotiations with pending messages.
	TickInterval Duration
	// Max negotiations leased per outbound state on every tick.
	BatchSize int
	// Max time one message send may take before it counts as a failure.
	// Must be shorter than Store.LeaseDuration.
	DispatchTimeout Duration
	// Capacity of the command queue.
	CommandQueueSize int
	// Commands applied per tick.
	CommandBatchSize int
	// Offers a negotiation may carry before it is declined. 0 means no limit.
	MaxOfferRounds uint64
	// Accept every offer that passes validation. When false, received offers
	// wait for an explicit accept, counter or decline through the API.
	AutoAccept bool

	Retry Retry
}

// Retry is the backoff applied to failed sends
type Retry struct {
	MinBackoff Duration
	MaxBackoff Duration
	Factor     float64
	Jitter     bool
	// Retries before the negotiation moves to the error state. 0 retries forever.
	MaxAttempts int
}

// Store selects where negotiations are persisted
type Store struct {
	// One of "memory", "leveldb", "badger" or "sqlite".
	Backend string
	// Location of the store, relative paths are resolved against the repo.
	// Empty uses the repo default for the backend.
	Path string
	// How long a leased negotiation stays claimed by an engine.
	LeaseDuration Duration
	// Wrap datastore backends with operation metrics.
	Measure bool
}

// Transport configures the peer-facing HTTP endpoint
type Transport struct {
	ListenAddress string
	// URL peers use to reach this connector. It is sent as the callback address.
	PublicURL string
	// Shared secret used to sign and verify peer tokens. Empty uses the secret
	// stored in the repo keystore.
	TokenSecret string
	TokenTTL    Duration

	// Inbound rate limit for the whole endpoint.
	RequestsPerSecond float64
	Burst             int
	// Outbound rate limit per peer.
	PeerRequestsPerSecond float64
	PeerBurst             int
}

// Metrics configures the prometheus exporter
type Metrics struct {
	Enabled bool
	// Served on the API listener under /debug/metrics.
	Namespace string
}

// Journal configures the negotiation journal
type Journal struct {
	Enabled bool
	// Comma separated system:event pairs that are not recorded.
	DisabledEvents string
	MaxBackups     int
	MaxSize        int64
}

// Logging sets log levels per subsystem
type Logging struct {
	Level           string
	SubsystemLevels map[string]string
}

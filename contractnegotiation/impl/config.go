package impl

import (
	"time"

	"github.com/raulk/clock"
	"golang.org/x/xerrors"

	cn "github.com/filecoin-project/go-dataspace/contractnegotiation"
	"github.com/filecoin-project/go-dataspace/lib/retry"
)

// Config holds the engine parameters of one role manager
type Config struct {
	// ParticipantID is the local party's identity, used as agreement party and lease owner prefix
	ParticipantID string
	// CallbackAddress is where peers send their replies
	CallbackAddress string

	TickInterval time.Duration
	// BatchSize is how many records are leased per actionable state and tick
	BatchSize int
	// DispatchTimeout bounds every outbound send; it must be shorter than the store's lease duration
	DispatchTimeout time.Duration

	CommandQueueSize int
	CommandBatchSize int

	// MaxOfferRounds declines a negotiation once more counter-offers were received; 0 means unlimited
	MaxOfferRounds uint64
}

// DefaultConfig returns the configuration used for unset fields
func DefaultConfig() Config {
	return Config{
		TickInterval:     time.Second,
		BatchSize:        16,
		DispatchTimeout:  30 * time.Second,
		CommandQueueSize: 1024,
		CommandBatchSize: 64,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.TickInterval <= 0 {
		c.TickInterval = def.TickInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = def.DispatchTimeout
	}
	if c.CommandQueueSize <= 0 {
		c.CommandQueueSize = def.CommandQueueSize
	}
	if c.CommandBatchSize <= 0 {
		c.CommandBatchSize = def.CommandBatchSize
	}
	return c
}

func (c Config) validate() error {
	if c.ParticipantID == "" {
		return xerrors.New("participant id must be set")
	}
	if c.CallbackAddress == "" {
		return xerrors.New("callback address must be set")
	}
	return nil
}

// Option configures a role manager
type Option func(m *manager)

// WithClock sets the clock driving ticks and timestamps
func WithClock(clk clock.Clock) Option {
	return func(m *manager) {
		m.clock = clk
	}
}

// WithRetryPolicy sets the policy deciding on failed sends
func WithRetryPolicy(p retry.Policy) Option {
	return func(m *manager) {
		m.retries = retry.NewManager(p)
	}
}

// WithDecider sets the business policy answering received offers. Without one
// every valid offer is accepted.
func WithDecider(d cn.DeciderFunc) Option {
	return func(m *manager) {
		m.decider = d
	}
}

// WithLeaseOwner overrides the owner name used when leasing records. Engines
// sharing one store must use different owners.
func WithLeaseOwner(owner string) Option {
	return func(m *manager) {
		m.owner = owner
	}
}

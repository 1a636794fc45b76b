package config

import (
	"encoding"
	"time"
)

const (
	RoleConsumer = "consumer"
	RoleProvider = "provider"
	RoleBoth     = "both"

	BackendMemory  = "memory"
	BackendLevelDB = "leveldb"
	BackendBadger  = "badger"
	BackendSQLite  = "sqlite"
)

// DefaultNode returns the default config
func DefaultNode() *Node {
	return &Node{
		API: API{
			ListenAddress: "127.0.0.1:8281",
			Timeout:       Duration(30 * time.Second),
		},
		Negotiation: Negotiation{
			Roles:            RoleBoth,
			TickInterval:     Duration(time.Second),
			BatchSize:        20,
			DispatchTimeout:  Duration(30 * time.Second),
			CommandQueueSize: 1000,
			CommandBatchSize: 10,
			MaxOfferRounds:   10,
			AutoAccept:       true,
			Retry: Retry{
				MinBackoff:  Duration(time.Second),
				MaxBackoff:  Duration(5 * time.Minute),
				Factor:      2,
				Jitter:      true,
				MaxAttempts: 10,
			},
		},
		Store: Store{
			Backend:       BackendLevelDB,
			LeaseDuration: Duration(time.Minute),
		},
		Transport: Transport{
			ListenAddress:         "0.0.0.0:8282",
			PublicURL:             "http://127.0.0.1:8282",
			TokenTTL:              Duration(5 * time.Minute),
			RequestsPerSecond:     100,
			Burst:                 200,
			PeerRequestsPerSecond: 20,
			PeerBurst:             40,
		},
		Metrics: Metrics{
			Enabled:   true,
			Namespace: "dataspace",
		},
		Journal: Journal{
			Enabled:    true,
			MaxBackups: 3,
			MaxSize:    64 << 20,
		},
		Logging: Logging{
			Level: "info",
		},
	}
}

var _ encoding.TextMarshaler = (*Duration)(nil)
var _ encoding.TextUnmarshaler = (*Duration)(nil)

// Duration is a wrapper type for time.Duration
// for decoding and encoding from/to TOML
type Duration time.Duration

// UnmarshalText implements interface for TOML decoding
func (dur *Duration) UnmarshalText(text []byte) error {
	d, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*dur = Duration(d)
	return err
}

func (dur Duration) MarshalText() ([]byte, error) {
	d := time.Duration(dur)
	return []byte(d.String()), nil
}

package httpnet

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
	"golang.org/x/xerrors"

	cn "github.com/filecoin-project/go-dataspace/contractnegotiation"
)

const limiterCacheSize = 1024

// DispatcherConfig configures the outbound side
type DispatcherConfig struct {
	// ParticipantID is the identity outbound tokens carry
	ParticipantID string
	Auth          *Auth
	Client        *http.Client

	// RequestsPerSecond limits the messages sent to any single destination; 0 disables the limit
	RequestsPerSecond float64
	Burst             int
}

// Dispatcher posts messages to peers. Destinations are the full URL of the
// peer's role path.
type Dispatcher struct {
	cfg      DispatcherConfig
	limiters *lru.Cache[string, *rate.Limiter]
}

var _ cn.Dispatcher = (*Dispatcher)(nil)

// NewDispatcher returns an HTTP dispatcher
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.ParticipantID == "" {
		return nil, xerrors.New("dispatcher needs a participant id")
	}
	if cfg.Auth == nil {
		return nil, xerrors.New("dispatcher needs token auth")
	}
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	limiters, err := lru.New[string, *rate.Limiter](limiterCacheSize)
	if err != nil {
		return nil, err
	}
	return &Dispatcher{cfg: cfg, limiters: limiters}, nil
}

func (d *Dispatcher) limiter(destination string) *rate.Limiter {
	if l, ok := d.limiters.Get(destination); ok {
		return l
	}
	limit := rate.Inf
	if d.cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(d.cfg.RequestsPerSecond)
	}
	l := rate.NewLimiter(limit, d.cfg.Burst)
	// a concurrent caller may have added one first; either limiter is fine
	d.limiters.ContainsOrAdd(destination, l)
	return l
}

func (d *Dispatcher) Send(ctx context.Context, destination string, msg cn.Message) <-chan error {
	out := make(chan error, 1)
	go func() {
		out <- d.send(ctx, destination, msg)
	}()
	return out
}

func (d *Dispatcher) send(ctx context.Context, destination string, msg cn.Message) error {
	if err := d.limiter(destination).Wait(ctx); err != nil {
		return xerrors.Errorf("waiting to send to %s: %w", destination, err)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return cn.NewFatalError(xerrors.Errorf("encoding %s: %w", msg.Type, err))
	}
	token, err := d.cfg.Auth.Sign(d.cfg.ParticipantID)
	if err != nil {
		return cn.NewFatalError(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, destination, bytes.NewReader(body))
	if err != nil {
		return cn.NewFatalError(xerrors.Errorf("creating request to %s: %w", destination, err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := d.cfg.Client.Do(req)
	if err != nil {
		return xerrors.Errorf("sending %s to %s: %w", msg.Type, destination, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode/100 == 2 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	reason := readReason(resp.Body)
	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return cn.Rejectedf("%s declined on %s: %s", destination, msg.Type, reason)
	case resp.StatusCode == http.StatusNotFound:
		return xerrors.Errorf("%s rejected %s: %s: %w", destination, msg.Type, reason, cn.ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return xerrors.Errorf("%s answered %s with %d: %s", destination, msg.Type, resp.StatusCode, reason)
	default:
		return cn.Fatalf("%s rejected %s with %d: %s", destination, msg.Type, resp.StatusCode, reason)
	}
}

func readReason(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return err.Error()
	}
	return strings.TrimSpace(string(b))
}

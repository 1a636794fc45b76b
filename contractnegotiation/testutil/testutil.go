// Package testutil holds fakes and generators shared by negotiation tests
package testutil

import (
	"context"
	"sync"

	"github.com/google/uuid"

	cn "github.com/filecoin-project/go-dataspace/contractnegotiation"
)

// GenerateOffer returns an offer of asset from provider to consumer with a fresh ID
func GenerateOffer(provider, consumer, asset string) cn.ContractOffer {
	return cn.ContractOffer{
		ID:         uuid.NewString(),
		AssetID:    asset,
		ProviderID: provider,
		ConsumerID: consumer,
		Policy: cn.Policy{
			UID:         uuid.NewString(),
			Target:      asset,
			Assigner:    provider,
			Assignee:    consumer,
			Permissions: []cn.Rule{{Action: "use"}},
		},
	}
}

// GenerateCounterOffer derives a new offer from previous with an extra prohibition
func GenerateCounterOffer(previous cn.ContractOffer, prohibited string) cn.ContractOffer {
	counter := previous
	counter.ID = uuid.NewString()
	counter.Policy.UID = uuid.NewString()
	counter.Policy.Prohibitions = append(append([]cn.Rule(nil), previous.Policy.Prohibitions...), cn.Rule{Action: prohibited})
	return counter
}

// Validator is a validation service answering with scripted errors
type Validator struct {
	lk sync.Mutex

	InitialOfferErr error
	CounterOfferErr error
	ConfirmedErr    error

	InitialOfferCalls int
	CounterOfferCalls int
	ConfirmedCalls    int
}

var _ cn.Validator = (*Validator)(nil)

func (v *Validator) ValidateInitialOffer(ctx context.Context, token cn.ClaimToken, offer cn.ContractOffer) error {
	v.lk.Lock()
	defer v.lk.Unlock()
	v.InitialOfferCalls++
	return v.InitialOfferErr
}

func (v *Validator) ValidateCounterOffer(ctx context.Context, token cn.ClaimToken, offer cn.ContractOffer, previous cn.ContractOffer) error {
	v.lk.Lock()
	defer v.lk.Unlock()
	v.CounterOfferCalls++
	return v.CounterOfferErr
}

func (v *Validator) ValidateConfirmed(ctx context.Context, token cn.ClaimToken, agreement cn.ContractAgreement, policy cn.Policy, offer cn.ContractOffer) error {
	v.lk.Lock()
	defer v.lk.Unlock()
	v.ConfirmedCalls++
	return v.ConfirmedErr
}

// Sent is a message handed to a Dispatcher
type Sent struct {
	Destination string
	Message     cn.Message
}

// Dispatcher records sends and completes them with scripted results. Sends
// complete immediately unless the dispatcher is held.
type Dispatcher struct {
	lk          sync.Mutex
	sent        []Sent
	results     []error
	hold        chan struct{}
	inFlight    map[string]int
	maxInFlight map[string]int
}

var _ cn.Dispatcher = (*Dispatcher)(nil)

// NewDispatcher returns a dispatcher delivering every message successfully
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		inFlight:    map[string]int{},
		maxInFlight: map[string]int{},
	}
}

// FailNext makes the next sends complete with errs, in order
func (d *Dispatcher) FailNext(errs ...error) {
	d.lk.Lock()
	defer d.lk.Unlock()
	d.results = append(d.results, errs...)
}

// Hold keeps sends pending until the returned function is called
func (d *Dispatcher) Hold() (release func()) {
	d.lk.Lock()
	defer d.lk.Unlock()
	hold := make(chan struct{})
	d.hold = hold
	var once sync.Once
	return func() {
		once.Do(func() {
			d.lk.Lock()
			d.hold = nil
			d.lk.Unlock()
			close(hold)
		})
	}
}

func (d *Dispatcher) Send(ctx context.Context, destination string, msg cn.Message) <-chan error {
	d.lk.Lock()
	d.sent = append(d.sent, Sent{Destination: destination, Message: msg})
	var result error
	if len(d.results) > 0 {
		result, d.results = d.results[0], d.results[1:]
	}
	key := msg.ConsumerPID
	d.inFlight[key]++
	if d.inFlight[key] > d.maxInFlight[key] {
		d.maxInFlight[key] = d.inFlight[key]
	}
	hold := d.hold
	d.lk.Unlock()

	out := make(chan error, 1)
	go func() {
		if hold != nil {
			select {
			case <-hold:
			case <-ctx.Done():
				result = ctx.Err()
			}
		}
		d.lk.Lock()
		d.inFlight[key]--
		d.lk.Unlock()
		out <- result
	}()
	return out
}

// Sent returns the messages sent so far
func (d *Dispatcher) Sent() []Sent {
	d.lk.Lock()
	defer d.lk.Unlock()
	return append([]Sent(nil), d.sent...)
}

// MaxInFlight is the largest number of simultaneous sends seen for a consumer process ID
func (d *Dispatcher) MaxInFlight(consumerPID string) int {
	d.lk.Lock()
	defer d.lk.Unlock()
	return d.maxInFlight[consumerPID]
}

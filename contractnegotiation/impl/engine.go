package impl

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/puzpuzpuz/xsync/v2"
	"github.com/raulk/clock"
	"go.opencensus.io/trace"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	cn "github.com/filecoin-project/go-dataspace/contractnegotiation"
	"github.com/filecoin-project/go-dataspace/contractnegotiation/fsm"
	"github.com/filecoin-project/go-dataspace/lib/retry"
	"github.com/filecoin-project/go-dataspace/metrics"
)

var log = logging.Logger("negotiation")

// inbound handlers and commands re-read and retry this many times on a CAS conflict
const casAttempts = 3

// errStale stops a write whose record moved on since it was read
var errStale = errors.New("negotiation changed since it was leased")

// manager is the engine shared by the consumer and the provider: it owns the
// tick loop, the lease and dispatch cycle, the command queue and the
// compare-and-swap write path every state change goes through.
type manager struct {
	*observable

	cfg        Config
	typ        cn.NegotiationType
	store      cn.Store
	dispatcher cn.Dispatcher
	validator  cn.Validator
	machine    *fsm.Machine
	outbounds  fsm.Outbounds

	clock   clock.Clock
	retries *retry.Manager
	decider cn.DeciderFunc
	owner   string

	commands chan Command
	inFlight *xsync.MapOf[string, struct{}]

	lk        sync.Mutex
	stop      context.CancelFunc
	eg        *errgroup.Group
	callbacks sync.WaitGroup
}

// leaseStore is a store that reports how long its leases last
type leaseStore interface {
	LeaseDuration() time.Duration
}

func newManager(typ cn.NegotiationType, events fsm.Events, outbounds fsm.Outbounds, cfg Config,
	store cn.Store, dispatcher cn.Dispatcher, validator cn.Validator, opts ...Option) (*manager, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, xerrors.Errorf("invalid %s config: %w", typ, err)
	}
	if ls, ok := store.(leaseStore); ok && cfg.DispatchTimeout >= ls.LeaseDuration() {
		return nil, xerrors.Errorf("invalid %s config: dispatch timeout %s must be shorter than the store lease duration %s",
			typ, cfg.DispatchTimeout, ls.LeaseDuration())
	}
	machine, err := fsm.New(events)
	if err != nil {
		return nil, xerrors.Errorf("building %s state machine: %w", typ, err)
	}
	m := &manager{
		observable: newObservable(),
		cfg:        cfg,
		typ:        typ,
		store:      store,
		dispatcher: dispatcher,
		validator:  validator,
		machine:    machine,
		outbounds:  outbounds,
		clock:      clock.New(),
		retries:    retry.NewManager(nil),
		decider:    cn.AcceptAll,
		owner:      fmt.Sprintf("%s/%s/%s", cfg.ParticipantID, typ, uuid.NewString()[:8]),
		commands:   make(chan Command, cfg.CommandQueueSize),
		inFlight:   xsync.NewMapOf[struct{}](),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// ParticipantID is the identity of the local party
func (m *manager) ParticipantID() string {
	return m.cfg.ParticipantID
}

// CallbackAddress is where peers reach the local party
func (m *manager) CallbackAddress() string {
	return m.cfg.CallbackAddress
}

// Start runs the tick loop until Stop is called
func (m *manager) Start(ctx context.Context) error {
	m.lk.Lock()
	defer m.lk.Unlock()
	if m.stop != nil {
		return xerrors.Errorf("%s engine already started", m.typ)
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.stop = cancel
	m.eg, ctx = errgroup.WithContext(ctx)
	m.eg.Go(func() error {
		return m.run(ctx)
	})
	log.Infow("negotiation engine started", "type", m.typ, "owner", m.owner, "interval", m.cfg.TickInterval)
	return nil
}

// Stop stops scheduling ticks and waits, until ctx is done, for pending sends
// to record their outcome
func (m *manager) Stop(ctx context.Context) error {
	m.lk.Lock()
	stop, eg := m.stop, m.eg
	m.stop, m.eg = nil, nil
	m.lk.Unlock()
	if stop == nil {
		return nil
	}

	stop()
	err := eg.Wait()

	done := make(chan struct{})
	go func() {
		m.callbacks.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warnw("stopped with sends still pending", "type", m.typ)
		return multierr.Append(err, ctx.Err())
	}
	log.Infow("negotiation engine stopped", "type", m.typ)
	return err
}

func (m *manager) run(ctx context.Context) error {
	ticker := m.clock.Ticker(m.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := m.Tick(ctx); err != nil {
				log.Errorw("negotiation tick", "type", m.typ, "err", err)
			}
		}
	}
}

// Tick applies queued commands, then leases records in every actionable state
// and starts their sends. It does not wait for the sends to complete.
func (m *manager) Tick(ctx context.Context) error {
	metrics.RecordCommandQueue(ctx, m.typ, len(m.commands))
	m.runCommands(ctx)

	var errs error
	for _, state := range m.outbounds.States() {
		leased, err := m.store.LeaseNext(ctx, m.owner, state, m.cfg.BatchSize)
		if err != nil {
			errs = multierr.Append(errs, xerrors.Errorf("leasing %s negotiations: %w", state, err))
			continue
		}
		for _, n := range leased {
			m.process(ctx, n)
		}
	}
	return errs
}

// Wait blocks until every send started so far recorded its outcome
func (m *manager) Wait() {
	m.callbacks.Wait()
}

// Get returns the negotiation with the given local ID
func (m *manager) Get(ctx context.Context, id string) (cn.ContractNegotiation, error) {
	n, err := m.store.Find(ctx, id)
	if err != nil {
		return cn.ContractNegotiation{}, err
	}
	if n.Type != m.typ {
		return cn.ContractNegotiation{}, xerrors.Errorf("negotiation %s is a %s negotiation: %w", id, n.Type, cn.ErrNotFound)
	}
	return *n, nil
}

// List returns the negotiations of this role
func (m *manager) List(ctx context.Context) ([]cn.ContractNegotiation, error) {
	all, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, n := range all {
		if n.Type == m.typ {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *manager) process(ctx context.Context, n cn.ContractNegotiation) {
	if n.Type != m.typ {
		// a store shared between roles; the other engine owns this record
		m.releaseLease(ctx, n.ID)
		return
	}
	if _, pending := m.inFlight.LoadOrStore(n.ID, struct{}{}); pending {
		// the pending send releases the lease once it completes
		log.Warnw("lease expired while a send is pending", "id", n.ID, "state", n.State)
		return
	}

	ob := m.outbounds[n.State]
	msg, err := m.buildMessage(ob, n)
	if err != nil {
		var pe *panicError
		if errors.As(err, &pe) {
			m.inFlight.Delete(n.ID)
			m.releaseLease(ctx, n.ID)
			return
		}
		m.callbacks.Add(1)
		go func() {
			defer m.callbacks.Done()
			m.sendCompleted(n, ob, err)
			m.finish(n.ID)
		}()
		return
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.DispatchTimeout)
	sendCtx, span := trace.StartSpan(sendCtx, "negotiation.send")
	span.AddAttributes(
		trace.StringAttribute("id", n.ID),
		trace.StringAttribute("type", n.Type.String()),
		trace.StringAttribute("message", msg.Type.String()),
	)
	log.Debugw("sending", "id", n.ID, "state", n.State, "message", msg.Type, "to", n.CounterPartyAddress)
	result := m.dispatcher.Send(sendCtx, n.CounterPartyAddress, msg)

	m.callbacks.Add(1)
	go func() {
		defer m.callbacks.Done()
		defer cancel()

		var err error
		select {
		case err = <-result:
		case <-sendCtx.Done():
			err = xerrors.Errorf("sending %s to %s: %w", msg.Type, n.CounterPartyAddress, sendCtx.Err())
		}
		if err != nil {
			span.SetStatus(trace.Status{Code: trace.StatusCodeUnknown, Message: err.Error()})
		}
		span.End()
		m.sendCompleted(n, ob, err)
		m.finish(n.ID)
	}()
}

type panicError struct {
	v interface{}
}

func (p *panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.v)
}

func (m *manager) buildMessage(ob fsm.Outbound, n cn.ContractNegotiation) (msg cn.Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := make([]byte, 4092)
			sz := runtime.Stack(stack, false)
			log.Errorw("recovered from panic building message", "id", n.ID, "state", n.State,
				"panic", r, "stack", string(stack[:sz]))
			err = &panicError{v: r}
		}
	}()
	return ob.Message(m, n)
}

// sendCompleted records the outcome of a send to the record it was leased as.
// It may run after the engine stopped and uses its own context.
func (m *manager) sendCompleted(leased cn.ContractNegotiation, ob fsm.Outbound, sendErr error) {
	ctx := context.Background()
	_, err := m.update(ctx, m.byID(leased.ID), func(t *transition) error {
		if t.n.State != leased.State || t.n.StateCount != leased.StateCount {
			return errStale
		}
		if sendErr == nil || (ob.NotFoundIsDelivered && errors.Is(sendErr, cn.ErrNotFound)) {
			return t.apply(ob.Sent)
		}
		if cn.IsRejected(sendErr) {
			// the peer already holds the decline, its decline message is a no-op here
			log.Infow("counter-party declined", "id", leased.ID, "state", leased.State, "reason", sendErr)
			return t.apply(cn.EventDeclined, withDetail("declined by counter-party: "+sendErr.Error()))
		}
		if cn.IsFatal(sendErr) {
			log.Warnw("send failed permanently", "id", leased.ID, "state", leased.State, "err", sendErr)
			return t.apply(cn.EventFailed, withDetail(sendErr.Error()))
		}

		attempt := int(t.n.RetryCount) + 1
		d := m.retries.Decide(attempt)
		log.Infow("send failed", "id", leased.ID, "state", leased.State, "attempt", attempt, "decision", d.Kind, "delay", d.Delay, "err", sendErr)
		switch d.Kind {
		case retry.Abandon:
			return t.apply(cn.EventFailed, withDetail(fmt.Sprintf("retries exhausted after %d attempts: %s", attempt, sendErr)))
		case retry.RetryAfter:
			next := m.clock.Now().Add(d.Delay).UTC()
			return t.apply(cn.EventSendFailed, func(n *cn.ContractNegotiation) {
				n.RetryCount++
				n.NextAttempt = next
			})
		default:
			return t.apply(cn.EventSendFailed, func(n *cn.ContractNegotiation) {
				n.RetryCount++
			})
		}
	})
	switch {
	case errors.Is(err, errStale):
		log.Debugw("negotiation moved on during send", "id", leased.ID, "leased state", leased.State)
	case err != nil:
		log.Errorw("recording send outcome", "id", leased.ID, "state", leased.State, "err", err)
	}
}

// finish ends a send; the lease goes last so no tick sees the record while it is still in flight
func (m *manager) finish(id string) {
	m.inFlight.Delete(id)
	m.releaseLease(context.Background(), id)
}

func (m *manager) releaseLease(ctx context.Context, id string) {
	if err := m.store.ReleaseLease(ctx, id, m.owner); err != nil {
		log.Warnw("releasing lease", "id", id, "err", err)
	}
}

// loader reads the record a write applies to
type loader func(ctx context.Context) (*cn.ContractNegotiation, error)

func (m *manager) byID(id string) loader {
	return func(ctx context.Context) (*cn.ContractNegotiation, error) {
		return m.store.Find(ctx, id)
	}
}

func (m *manager) byCorrelationID(correlationID string) loader {
	return func(ctx context.Context) (*cn.ContractNegotiation, error) {
		return m.store.FindForCorrelationID(ctx, correlationID)
	}
}

// transition collects the events applied to one record before it is saved
type transition struct {
	m       *manager
	n       *cn.ContractNegotiation
	applied []internalEvent
	dirty   bool
	result  error
}

func (t *transition) apply(evt cn.Event, mutators ...fsm.Mutator) error {
	if err := t.m.machine.Apply(t.n, evt, t.m.clock.Now().UTC(), mutators...); err != nil {
		return err
	}
	t.applied = append(t.applied, internalEvent{evt: evt, negotiation: t.n.Clone()})
	t.dirty = true
	return nil
}

// fail saves what was applied so far and then returns err to the caller
func (t *transition) fail(err error) error {
	t.result = err
	return nil
}

func withDetail(detail string) fsm.Mutator {
	return func(n *cn.ContractNegotiation) {
		n.ErrorDetail = detail
	}
}

// update reads a record, lets f apply events to it and saves the result with
// the store's compare-and-swap, re-reading on conflicts. Subscribers are
// notified only after the save succeeded.
func (m *manager) update(ctx context.Context, load loader, f func(t *transition) error) (cn.ContractNegotiation, error) {
	var published []internalEvent
	out, err := retry.Retry(ctx, casAttempts, 0, []error{cn.ErrConcurrentModification}, func() (cn.ContractNegotiation, error) {
		n, err := load(ctx)
		if err != nil {
			return cn.ContractNegotiation{}, err
		}
		t := &transition{m: m, n: n}
		if err := f(t); err != nil {
			return *n, err
		}
		if !t.dirty {
			return *n, t.result
		}
		if err := m.store.Save(ctx, n); err != nil {
			return cn.ContractNegotiation{}, xerrors.Errorf("saving negotiation %s: %w", n.ID, err)
		}
		published = t.applied
		for i := range published {
			published[i].negotiation.StateCount = n.StateCount
		}
		return *n, t.result
	})
	for _, ie := range published {
		m.notify(ie.evt, ie.negotiation)
	}
	return out, err
}

// newNegotiation returns an unsaved record of this role
func (m *manager) newNegotiation(id string) *cn.ContractNegotiation {
	now := m.clock.Now().UTC()
	return &cn.ContractNegotiation{
		ID:             id,
		Type:           m.typ,
		State:          cn.Initial,
		StateTimestamp: now,
		CreatedAt:      now,
	}
}

// checkCaller rejects messages from anyone but the record's counter-party
func checkCaller(token cn.ClaimToken, n *cn.ContractNegotiation) error {
	if token.ParticipantID != n.CounterPartyID {
		return cn.Fatalf("negotiation %s: caller %q is not the counter-party %q", n.ID, token.ParticipantID, n.CounterPartyID)
	}
	return nil
}

// checkOfferHash rejects offers whose announced hash does not match their content
func checkOfferHash(offer cn.ContractOffer, hash string) error {
	if hash == "" {
		return nil
	}
	actual, err := cn.HashOffer(offer)
	if err != nil {
		return cn.NewFatalError(err)
	}
	if actual != hash {
		return cn.Fatalf("offer %s: hash %s does not match content hash %s", offer.ID, hash, actual)
	}
	return nil
}

// invalidTransition turns a message the record cannot take in its state into a fatal error
func invalidTransition(n *cn.ContractNegotiation, evt cn.Event) error {
	return cn.NewFatalError(xerrors.Errorf("negotiation %s: %s in state %s: %w", n.ID, evt, n.State, fsm.ErrInvalidTransition))
}

// overRoundLimit reports whether the record received more counter-offers than allowed
func (m *manager) overRoundLimit(n *cn.ContractNegotiation) bool {
	return m.cfg.MaxOfferRounds > 0 && n.Rounds > m.cfg.MaxOfferRounds
}

// nextOfferID fills in a missing offer ID and rejects reused ones
func nextOfferID(n *cn.ContractNegotiation, offer cn.ContractOffer) (cn.ContractOffer, error) {
	if offer.ID == "" {
		offer.ID = uuid.NewString()
	}
	if n.HasOffer(offer.ID) {
		return offer, cn.Fatalf("negotiation %s already holds offer %s", n.ID, offer.ID)
	}
	return offer, nil
}

func appendOffer(offer cn.ContractOffer) fsm.Mutator {
	return func(n *cn.ContractNegotiation) {
		n.Offers = append(n.Offers, offer)
	}
}

// inbound returns the loader for the record a peer message addresses. The
// consumer's ID is its own record ID; the provider knows it as correlation ID.
func (m *manager) inbound(ids cn.ProcessIDs) loader {
	if m.typ == cn.TypeConsumer {
		return m.byID(ids.ConsumerPID)
	}
	return m.byCorrelationID(ids.ConsumerPID)
}

// peerID is the peer's identifier among ids
func (m *manager) peerID(ids cn.ProcessIDs) string {
	if m.typ == cn.TypeConsumer {
		return ids.ProviderPID
	}
	return ids.ConsumerPID
}

// checkInbound rejects a peer message that does not belong to n
func (m *manager) checkInbound(token cn.ClaimToken, ids cn.ProcessIDs, n *cn.ContractNegotiation) error {
	if n.Type != m.typ {
		return xerrors.Errorf("negotiation %s is a %s negotiation: %w", n.ID, n.Type, cn.ErrNotFound)
	}
	if err := checkCaller(token, n); err != nil {
		return err
	}
	if peer := m.peerID(ids); n.CorrelationID != "" && peer != "" && peer != n.CorrelationID {
		return cn.Fatalf("negotiation %s is correlated with %s, not %s", n.ID, n.CorrelationID, peer)
	}
	return nil
}

// correlate records the peer's ID the first time it is seen
func (m *manager) correlate(ids cn.ProcessIDs) fsm.Mutator {
	peer := m.peerID(ids)
	return func(n *cn.ContractNegotiation) {
		if n.CorrelationID == "" {
			n.CorrelationID = peer
		}
	}
}

func (m *manager) local(id string) loader {
	load := m.byID(id)
	return func(ctx context.Context) (*cn.ContractNegotiation, error) {
		n, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if n.Type != m.typ {
			return nil, xerrors.Errorf("negotiation %s is a %s negotiation: %w", id, n.Type, cn.ErrNotFound)
		}
		return n, nil
	}
}

// Declined records the peer declining the negotiation. Declines arriving after
// the negotiation finished are acknowledged without effect.
func (m *manager) Declined(ctx context.Context, token cn.ClaimToken, ids cn.ProcessIDs, reason string) (cn.ContractNegotiation, error) {
	return m.update(ctx, m.inbound(ids), func(t *transition) error {
		if err := m.checkInbound(token, ids, t.n); err != nil {
			return err
		}
		if t.n.State.IsTerminal() {
			if t.n.State != cn.Declined {
				log.Infow("ignoring decline of finished negotiation", "id", t.n.ID, "state", t.n.State)
			}
			return nil
		}
		return t.apply(cn.EventDeclined, m.correlate(ids), withDetail(orDefault(reason, "declined by counter-party")))
	})
}

// Terminated records the peer terminating the negotiation
func (m *manager) Terminated(ctx context.Context, token cn.ClaimToken, ids cn.ProcessIDs, reason string) (cn.ContractNegotiation, error) {
	return m.update(ctx, m.inbound(ids), func(t *transition) error {
		if err := m.checkInbound(token, ids, t.n); err != nil {
			return err
		}
		if t.n.State.IsTerminal() {
			if t.n.State != cn.Terminated {
				log.Infow("ignoring termination of finished negotiation", "id", t.n.ID, "state", t.n.State)
			}
			return nil
		}
		return t.apply(cn.EventTerminated, m.correlate(ids), withDetail(orDefault(reason, "terminated by counter-party")))
	})
}

// Decline declines a negotiation that is waiting for a local decision
func (m *manager) Decline(ctx context.Context, id string, reason string) (cn.ContractNegotiation, error) {
	return m.update(ctx, m.local(id), func(t *transition) error {
		if !t.n.State.IsTerminal() && !t.n.State.IsPreAgreement() {
			return cn.Fatalf("negotiation %s already reached an agreement in state %s, terminate it instead", t.n.ID, t.n.State)
		}
		if !m.machine.Can(t.n.State, cn.EventDecline) {
			return invalidTransition(t.n, cn.EventDecline)
		}
		return t.apply(cn.EventDecline, withDetail(orDefault(reason, "declined")))
	})
}

// Counter answers the peer's last offer with offer. A missing offer ID is generated.
func (m *manager) Counter(ctx context.Context, id string, offer cn.ContractOffer) (cn.ContractNegotiation, error) {
	return m.update(ctx, m.local(id), func(t *transition) error {
		if !m.machine.Can(t.n.State, cn.EventCounter) {
			return invalidTransition(t.n, cn.EventCounter)
		}
		counter, err := nextOfferID(t.n, offer)
		if err != nil {
			return err
		}
		return t.apply(cn.EventCounter, appendOffer(counter))
	})
}

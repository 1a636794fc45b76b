package impl

import (
	"context"
	"errors"

	cn "github.com/filecoin-project/go-dataspace/contractnegotiation"
)

// ErrCommandQueueFull means Enqueue was called with the command queue at capacity
var ErrCommandQueueFull = errors.New("command queue is full")

// Command is an administrative override applied on the next tick, before any
// send. Commands ignore leases and retry delays.
type Command interface {
	NegotiationID() string
	event() cn.Event
	detail() string
}

// CancelNegotiation terminates a negotiation locally without notifying the peer
type CancelNegotiation struct {
	ID     string
	Reason string
}

func (c CancelNegotiation) NegotiationID() string { return c.ID }
func (c CancelNegotiation) event() cn.Event       { return cn.EventCancel }
func (c CancelNegotiation) detail() string        { return orDefault(c.Reason, "cancelled") }

// TerminateNegotiation terminates a negotiation and notifies the peer
type TerminateNegotiation struct {
	ID     string
	Reason string
}

func (c TerminateNegotiation) NegotiationID() string { return c.ID }
func (c TerminateNegotiation) event() cn.Event       { return cn.EventTerminate }
func (c TerminateNegotiation) detail() string        { return orDefault(c.Reason, "terminated") }

// DeclineNegotiation declines a negotiation in any non terminal state and notifies the peer
type DeclineNegotiation struct {
	ID     string
	Reason string
}

func (c DeclineNegotiation) NegotiationID() string { return c.ID }
func (c DeclineNegotiation) event() cn.Event       { return cn.EventForceDecline }
func (c DeclineNegotiation) detail() string        { return orDefault(c.Reason, "declined") }

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// Enqueue queues cmd for the next tick. It never blocks.
func (m *manager) Enqueue(cmd Command) error {
	select {
	case m.commands <- cmd:
		log.Infow("command queued", "id", cmd.NegotiationID(), "event", cmd.event())
		return nil
	default:
		return ErrCommandQueueFull
	}
}

func (m *manager) runCommands(ctx context.Context) {
	for i := 0; i < m.cfg.CommandBatchSize; i++ {
		select {
		case cmd := <-m.commands:
			m.runCommand(ctx, cmd)
		default:
			return
		}
	}
}

func (m *manager) runCommand(ctx context.Context, cmd Command) {
	n, err := m.update(ctx, m.byID(cmd.NegotiationID()), func(t *transition) error {
		if t.n.Type != m.typ {
			return cn.Fatalf("negotiation %s is a %s negotiation", t.n.ID, t.n.Type)
		}
		if t.n.State.IsTerminal() {
			log.Infow("ignoring command on finished negotiation", "id", t.n.ID, "state", t.n.State, "event", cmd.event())
			return nil
		}
		return t.apply(cmd.event(), withDetail(cmd.detail()))
	})
	if err != nil {
		log.Errorw("applying command", "id", cmd.NegotiationID(), "event", cmd.event(), "err", err)
		return
	}
	log.Infow("command applied", "id", n.ID, "event", cmd.event(), "state", n.State)
}

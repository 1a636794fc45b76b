package network

import (
	"context"
	"encoding/json"
	"sync"

	"golang.org/x/xerrors"

	cn "github.com/filecoin-project/go-dataspace/contractnegotiation"
)

// ErrNoRoute means nothing is registered at the destination address. It is
// retryable: the peer may not be up yet.
var ErrNoRoute = xerrors.New("no receiver at address")

// Loopback is an in-process network. Messages are delivered asynchronously and
// cross it JSON encoded, so sender and receiver never share memory.
type Loopback struct {
	lk        sync.RWMutex
	receivers map[string]Receiver

	// FailHook, when set, is asked before every delivery; a non-nil error is
	// returned to the sender and the message is dropped
	FailHook func(destination string, msg cn.Message) error
	// DuplicateHook, when set, makes the message be delivered a second time
	// when it returns true
	DuplicateHook func(destination string, msg cn.Message) bool

	wg sync.WaitGroup
}

// NewLoopback returns an empty network
func NewLoopback() *Loopback {
	return &Loopback{receivers: map[string]Receiver{}}
}

// Register makes r reachable at address
func (l *Loopback) Register(address string, r Receiver) {
	l.lk.Lock()
	defer l.lk.Unlock()
	l.receivers[address] = r
}

// Unregister makes address unreachable
func (l *Loopback) Unregister(address string) {
	l.lk.Lock()
	defer l.lk.Unlock()
	delete(l.receivers, address)
}

// Dispatcher returns a dispatcher whose messages are authenticated as participantID
func (l *Loopback) Dispatcher(participantID string) cn.Dispatcher {
	return &loopbackDispatcher{net: l, token: cn.ClaimToken{ParticipantID: participantID}}
}

// Wait blocks until all deliveries started so far completed
func (l *Loopback) Wait() {
	l.wg.Wait()
}

type loopbackDispatcher struct {
	net   *Loopback
	token cn.ClaimToken
}

func (d *loopbackDispatcher) Send(ctx context.Context, destination string, msg cn.Message) <-chan error {
	out := make(chan error, 1)
	d.net.wg.Add(1)
	go func() {
		defer d.net.wg.Done()
		out <- d.net.deliver(ctx, d.token, destination, msg)
	}()
	return out
}

func (l *Loopback) deliver(ctx context.Context, token cn.ClaimToken, destination string, msg cn.Message) error {
	l.lk.RLock()
	r, ok := l.receivers[destination]
	failHook, dupHook := l.FailHook, l.DuplicateHook
	l.lk.RUnlock()

	if failHook != nil {
		if err := failHook(destination, msg); err != nil {
			return err
		}
	}
	if !ok {
		return xerrors.Errorf("delivering %s to %s: %w", msg.Type, destination, ErrNoRoute)
	}

	b, err := json.Marshal(msg)
	if err != nil {
		return cn.NewFatalError(xerrors.Errorf("encoding %s: %w", msg.Type, err))
	}
	decode := func() (cn.Message, error) {
		var m cn.Message
		if err := json.Unmarshal(b, &m); err != nil {
			return m, cn.NewFatalError(xerrors.Errorf("decoding %s: %w", msg.Type, err))
		}
		return m, nil
	}

	received, err := decode()
	if err != nil {
		return err
	}
	err = r.Receive(ctx, token, received)
	if dupHook != nil && dupHook(destination, msg) {
		dup, derr := decode()
		if derr == nil {
			if derr = r.Receive(ctx, token, dup); derr != nil {
				log.Warnw("duplicate delivery failed", "type", msg.Type, "to", destination, "err", derr)
			}
		}
	}
	return err
}

package impl

import (
	"errors"

	"github.com/hannahhoward/go-pubsub"

	cn "github.com/filecoin-project/go-dataspace/contractnegotiation"
)

type internalEvent struct {
	evt         cn.Event
	negotiation cn.ContractNegotiation
}

func dispatcher(evt pubsub.Event, subscriberFn pubsub.SubscriberFn) (err error) {
	ie, ok := evt.(internalEvent)
	if !ok {
		return errors.New("wrong type of event")
	}
	cb, ok := subscriberFn.(cn.Subscriber)
	if !ok {
		return errors.New("wrong type of subscriber")
	}
	defer func() {
		if r := recover(); r != nil {
			log.Errorw("negotiation subscriber panicked", "event", ie.evt, "id", ie.negotiation.ID, "panic", r)
		}
	}()
	log.Debugw("process negotiation listeners", "name", ie.evt, "id", ie.negotiation.ID, "state", ie.negotiation.State)
	cb(ie.evt, ie.negotiation)
	return nil
}

// observable fans persisted transitions out to subscribers
type observable struct {
	subscribers *pubsub.PubSub
}

func newObservable() *observable {
	return &observable{subscribers: pubsub.New(dispatcher)}
}

// Subscribe registers a subscriber called after every persisted transition
func (o *observable) Subscribe(subscriber cn.Subscriber) cn.Unsubscribe {
	return cn.Unsubscribe(o.subscribers.Subscribe(subscriber))
}

func (o *observable) notify(evt cn.Event, n cn.ContractNegotiation) {
	if err := o.subscribers.Publish(internalEvent{evt: evt, negotiation: n}); err != nil {
		log.Errorw("publishing negotiation event", "event", evt, "id", n.ID, "err", err)
	}
}

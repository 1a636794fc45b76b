// Package network routes decoded protocol messages to the role managers and
// provides an in-process transport for tests and single-process setups.
package network

import (
	"context"

	logging "github.com/ipfs/go-log/v2"

	cn "github.com/filecoin-project/go-dataspace/contractnegotiation"
)

var log = logging.Logger("negotiation-network")

// Receiver handles a protocol message sent by the holder of token. The error
// tells the sender whether to retry: see contractnegotiation.IsFatal.
type Receiver interface {
	Receive(ctx context.Context, token cn.ClaimToken, msg cn.Message) error
}

// ConsumerHandlers are the consumer operations a peer can trigger
type ConsumerHandlers interface {
	OfferReceived(ctx context.Context, token cn.ClaimToken, ids cn.ProcessIDs, offer cn.ContractOffer, hash string) (cn.ContractNegotiation, error)
	Confirmed(ctx context.Context, token cn.ClaimToken, ids cn.ProcessIDs, agreement cn.ContractAgreement, policy cn.Policy) (cn.ContractNegotiation, error)
	Finalized(ctx context.Context, token cn.ClaimToken, ids cn.ProcessIDs) (cn.ContractNegotiation, error)
	Declined(ctx context.Context, token cn.ClaimToken, ids cn.ProcessIDs, reason string) (cn.ContractNegotiation, error)
	Terminated(ctx context.Context, token cn.ClaimToken, ids cn.ProcessIDs, reason string) (cn.ContractNegotiation, error)
}

// ProviderHandlers are the provider operations a peer can trigger
type ProviderHandlers interface {
	Requested(ctx context.Context, token cn.ClaimToken, req cn.ContractRequest) (cn.ContractNegotiation, error)
	OfferReceived(ctx context.Context, token cn.ClaimToken, req cn.ContractRequest) (cn.ContractNegotiation, error)
	Accepted(ctx context.Context, token cn.ClaimToken, ids cn.ProcessIDs) (cn.ContractNegotiation, error)
	Verified(ctx context.Context, token cn.ClaimToken, ids cn.ProcessIDs) (cn.ContractNegotiation, error)
	Declined(ctx context.Context, token cn.ClaimToken, ids cn.ProcessIDs, reason string) (cn.ContractNegotiation, error)
	Terminated(ctx context.Context, token cn.ClaimToken, ids cn.ProcessIDs, reason string) (cn.ContractNegotiation, error)
}

// ReceiverFunc adapts a function to Receiver
type ReceiverFunc func(ctx context.Context, token cn.ClaimToken, msg cn.Message) error

func (f ReceiverFunc) Receive(ctx context.Context, token cn.ClaimToken, msg cn.Message) error {
	return f(ctx, token, msg)
}

// NewConsumerReceiver routes the messages a provider sends to h
func NewConsumerReceiver(h ConsumerHandlers) Receiver {
	return ReceiverFunc(func(ctx context.Context, token cn.ClaimToken, msg cn.Message) error {
		var err error
		switch msg.Type {
		case cn.MessageCounterOffer:
			if msg.Offer == nil {
				return cn.Fatalf("%s message without offer", msg.Type)
			}
			_, err = h.OfferReceived(ctx, token, msg.ProcessIDs, *msg.Offer, msg.OfferHash)
		case cn.MessageAgreement:
			if msg.Agreement == nil {
				return cn.Fatalf("%s message without agreement", msg.Type)
			}
			_, err = h.Confirmed(ctx, token, msg.ProcessIDs, *msg.Agreement, msg.Agreement.Policy)
		case cn.MessageFinalization:
			_, err = h.Finalized(ctx, token, msg.ProcessIDs)
		case cn.MessageDecline:
			_, err = h.Declined(ctx, token, msg.ProcessIDs, msg.Reason)
		case cn.MessageTermination:
			_, err = h.Terminated(ctx, token, msg.ProcessIDs, msg.Reason)
		default:
			return cn.Fatalf("consumer cannot handle %s messages", msg.Type)
		}
		logReceived(token, msg, err)
		return err
	})
}

// NewProviderReceiver routes the messages a consumer sends to h
func NewProviderReceiver(h ProviderHandlers) Receiver {
	return ReceiverFunc(func(ctx context.Context, token cn.ClaimToken, msg cn.Message) error {
		var err error
		switch msg.Type {
		case cn.MessageInitialOffer:
			if msg.Offer == nil {
				return cn.Fatalf("%s message without offer", msg.Type)
			}
			_, err = h.Requested(ctx, token, contractRequest(msg))
		case cn.MessageCounterOffer:
			if msg.Offer == nil {
				return cn.Fatalf("%s message without offer", msg.Type)
			}
			_, err = h.OfferReceived(ctx, token, contractRequest(msg))
		case cn.MessageAcceptance:
			_, err = h.Accepted(ctx, token, msg.ProcessIDs)
		case cn.MessageVerification:
			_, err = h.Verified(ctx, token, msg.ProcessIDs)
		case cn.MessageDecline:
			_, err = h.Declined(ctx, token, msg.ProcessIDs, msg.Reason)
		case cn.MessageTermination:
			_, err = h.Terminated(ctx, token, msg.ProcessIDs, msg.Reason)
		default:
			return cn.Fatalf("provider cannot handle %s messages", msg.Type)
		}
		logReceived(token, msg, err)
		return err
	})
}

func contractRequest(msg cn.Message) cn.ContractRequest {
	return cn.ContractRequest{
		ProcessIDs:      msg.ProcessIDs,
		Protocol:        msg.Protocol,
		CallbackAddress: msg.CallbackAddress,
		Offer:           *msg.Offer,
		OfferHash:       msg.OfferHash,
	}
}

func logReceived(token cn.ClaimToken, msg cn.Message, err error) {
	if err != nil {
		log.Infow("message rejected", "type", msg.Type, "from", token.ParticipantID,
			"consumerPid", msg.ConsumerPID, "providerPid", msg.ProviderPID, "fatal", cn.IsFatal(err), "err", err)
		return
	}
	log.Debugw("message handled", "type", msg.Type, "from", token.ParticipantID,
		"consumerPid", msg.ConsumerPID, "providerPid", msg.ProviderPID)
}

// Package httpnet carries negotiation messages over HTTP. Every role is
// served on its own path; peers authenticate with a bearer token.
package httpnet

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/time/rate"

	cn "github.com/filecoin-project/go-dataspace/contractnegotiation"
	"github.com/filecoin-project/go-dataspace/contractnegotiation/network"
)

var log = logging.Logger("negotiation-http")

const (
	// ConsumerPath receives the messages providers send to consumers
	ConsumerPath = "/negotiations/consumer"
	// ProviderPath receives the messages consumers send to providers
	ProviderPath = "/negotiations/provider"

	// Protocol names this transport in negotiation records
	Protocol = "dataspace-protocol-http"

	maxMessageSize = 1 << 20
)

// ServerConfig configures the inbound side
type ServerConfig struct {
	// Consumer and Provider receive the messages of their role; a nil
	// receiver leaves its path unrouted
	Consumer network.Receiver
	Provider network.Receiver

	Auth *Auth

	// RequestsPerSecond limits inbound messages across all peers; 0 disables the limit
	RequestsPerSecond float64
	Burst             int
}

// NewHandler returns the handler serving both role paths
func NewHandler(cfg ServerConfig) http.Handler {
	r := mux.NewRouter()

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(limit, burst)

	if cfg.Consumer != nil {
		r.Handle(ConsumerPath, &receiveHandler{receiver: cfg.Consumer, auth: cfg.Auth, limiter: limiter}).Methods(http.MethodPost)
	}
	if cfg.Provider != nil {
		r.Handle(ProviderPath, &receiveHandler{receiver: cfg.Provider, auth: cfg.Auth, limiter: limiter}).Methods(http.MethodPost)
	}
	return r
}

type receiveHandler struct {
	receiver network.Receiver
	auth     *Auth
	limiter  *rate.Limiter
}

func (h *receiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.limiter.Allow() {
		w.WriteHeader(http.StatusTooManyRequests)
		return
	}

	token := r.Header.Get("Authorization")
	if !strings.HasPrefix(token, "Bearer ") {
		log.Warn("missing Bearer prefix in auth header")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	claims, err := h.auth.Verify(token[len("Bearer "):])
	if err != nil {
		log.Warnf("JWT Verification failed: %s", err)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var msg cn.Message
	if err := json.NewDecoder(io.LimitReader(r.Body, maxMessageSize)).Decode(&msg); err != nil {
		http.Error(w, "decoding message: "+err.Error(), http.StatusBadRequest)
		return
	}

	err = h.receiver.Receive(r.Context(), claims, msg)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case cn.IsRejected(err):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, cn.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case cn.IsFatal(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		log.Warnw("handling message", "type", msg.Type, "from", claims.ParticipantID, "err", err)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	}
}

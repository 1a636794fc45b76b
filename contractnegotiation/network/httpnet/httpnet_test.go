package httpnet_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/raulk/clock"
	"github.com/stretchr/testify/require"

	cn "github.com/filecoin-project/go-dataspace/contractnegotiation"
	"github.com/filecoin-project/go-dataspace/contractnegotiation/impl"
	"github.com/filecoin-project/go-dataspace/contractnegotiation/memstore"
	"github.com/filecoin-project/go-dataspace/contractnegotiation/network"
	"github.com/filecoin-project/go-dataspace/contractnegotiation/network/httpnet"
	"github.com/filecoin-project/go-dataspace/contractnegotiation/testutil"
)

var secret = []byte("dataspace-shared-secret")

func newAuth(t *testing.T, opts ...httpnet.AuthOption) *httpnet.Auth {
	a, err := httpnet.NewAuth(secret, opts...)
	require.NoError(t, err)
	return a
}

func TestAuth(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC))
	a := newAuth(t, httpnet.WithAuthClock(clk), httpnet.WithTokenTTL(time.Minute))

	tok, err := a.Sign("consumer")
	require.NoError(t, err)
	claims, err := a.Verify(tok)
	require.NoError(t, err)
	require.Equal(t, "consumer", claims.ParticipantID)

	other, err := httpnet.NewAuth([]byte("another secret"), httpnet.WithAuthClock(clk))
	require.NoError(t, err)
	_, err = other.Verify(tok)
	require.Error(t, err)

	clk.Add(2 * time.Minute)
	_, err = a.Verify(tok)
	require.Error(t, err)

	_, err = httpnet.NewAuth(nil)
	require.Error(t, err)
}

func TestStatusMapping(t *testing.T) {
	var (
		lk     sync.Mutex
		result error
		seen   cn.ClaimToken
	)
	respond := func(err error) {
		lk.Lock()
		defer lk.Unlock()
		result = err
	}
	provider := network.ReceiverFunc(func(ctx context.Context, token cn.ClaimToken, msg cn.Message) error {
		lk.Lock()
		defer lk.Unlock()
		seen = token
		return result
	})
	srv := httptest.NewServer(httpnet.NewHandler(httpnet.ServerConfig{Provider: provider, Auth: newAuth(t)}))
	defer srv.Close()

	d, err := httpnet.NewDispatcher(httpnet.DispatcherConfig{ParticipantID: "consumer", Auth: newAuth(t)})
	require.NoError(t, err)
	ctx := context.Background()
	msg := cn.Message{Type: cn.MessageAcceptance, ProcessIDs: cn.ProcessIDs{ConsumerPID: "c", ProviderPID: "p"}}
	send := func(path string) error {
		return <-d.Send(ctx, srv.URL+path, msg)
	}

	require.NoError(t, send(httpnet.ProviderPath))
	lk.Lock()
	require.Equal(t, "consumer", seen.ParticipantID)
	lk.Unlock()

	respond(cn.Fatalf("accepted in state REQUESTED"))
	err = send(httpnet.ProviderPath)
	require.True(t, cn.IsFatal(err))
	require.Contains(t, err.Error(), "accepted in state REQUESTED")

	respond(cn.NewRejectedError(errors.New("agreement policy differs from offer")))
	err = send(httpnet.ProviderPath)
	require.True(t, cn.IsRejected(err))
	require.True(t, cn.IsFatal(err))
	require.Contains(t, err.Error(), "agreement policy differs from offer")

	respond(cn.ErrNotFound)
	require.ErrorIs(t, send(httpnet.ProviderPath), cn.ErrNotFound)

	respond(errors.New("store unavailable"))
	err = send(httpnet.ProviderPath)
	require.Error(t, err)
	require.False(t, cn.IsFatal(err))

	// no consumer is served here
	require.ErrorIs(t, send(httpnet.ConsumerPath), cn.ErrNotFound)

	wrong, err := httpnet.NewAuth([]byte("not the dataspace secret"))
	require.NoError(t, err)
	intruder, err := httpnet.NewDispatcher(httpnet.DispatcherConfig{ParticipantID: "mallory", Auth: wrong})
	require.NoError(t, err)
	err = <-intruder.Send(ctx, srv.URL+httpnet.ProviderPath, msg)
	require.True(t, cn.IsFatal(err))
	require.Contains(t, err.Error(), "401")
}

func TestUnreachablePeerIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	d, err := httpnet.NewDispatcher(httpnet.DispatcherConfig{ParticipantID: "consumer", Auth: newAuth(t)})
	require.NoError(t, err)
	err = <-d.Send(context.Background(), url+httpnet.ProviderPath, cn.Message{Type: cn.MessageAcceptance})
	require.Error(t, err)
	require.False(t, cn.IsFatal(err))
}

func TestServerRateLimit(t *testing.T) {
	provider := network.ReceiverFunc(func(context.Context, cn.ClaimToken, cn.Message) error { return nil })
	srv := httptest.NewServer(httpnet.NewHandler(httpnet.ServerConfig{
		Provider:          provider,
		Auth:              newAuth(t),
		RequestsPerSecond: 0.001,
		Burst:             1,
	}))
	defer srv.Close()

	d, err := httpnet.NewDispatcher(httpnet.DispatcherConfig{ParticipantID: "consumer", Auth: newAuth(t)})
	require.NoError(t, err)
	ctx := context.Background()
	msg := cn.Message{Type: cn.MessageAcceptance}

	require.NoError(t, <-d.Send(ctx, srv.URL+httpnet.ProviderPath, msg))
	err = <-d.Send(ctx, srv.URL+httpnet.ProviderPath, msg)
	require.Error(t, err)
	require.False(t, cn.IsFatal(err))
}

func TestNegotiationOverHTTP(t *testing.T) {
	var handler http.Handler
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	defer srv.Close()

	consumerDispatcher, err := httpnet.NewDispatcher(httpnet.DispatcherConfig{ParticipantID: "consumer", Auth: newAuth(t)})
	require.NoError(t, err)
	providerDispatcher, err := httpnet.NewDispatcher(httpnet.DispatcherConfig{ParticipantID: "provider", Auth: newAuth(t)})
	require.NoError(t, err)

	c, err := impl.NewConsumer(impl.Config{ParticipantID: "consumer", CallbackAddress: srv.URL + httpnet.ConsumerPath},
		memstore.New(), consumerDispatcher, &testutil.Validator{})
	require.NoError(t, err)
	pStore := memstore.New()
	p, err := impl.NewProvider(impl.Config{ParticipantID: "provider", CallbackAddress: srv.URL + httpnet.ProviderPath},
		pStore, providerDispatcher, &testutil.Validator{})
	require.NoError(t, err)

	handler = httpnet.NewHandler(httpnet.ServerConfig{
		Consumer: network.NewConsumerReceiver(c),
		Provider: network.NewProviderReceiver(p),
		Auth:     newAuth(t),
	})

	ctx := context.Background()
	n, err := c.Initiate(ctx, cn.OfferRequest{
		ProviderID:      "provider",
		ProviderAddress: srv.URL + httpnet.ProviderPath,
		Protocol:        "dataspace-protocol-http",
		Offer:           testutil.GenerateOffer("provider", "consumer", "asset-1"),
	})
	require.NoError(t, err)

	var consumer cn.ContractNegotiation
	for i := 0; i < 10; i++ {
		require.NoError(t, c.Tick(ctx))
		c.Wait()
		require.NoError(t, p.Tick(ctx))
		p.Wait()

		consumer, err = c.Get(ctx, n.ID)
		require.NoError(t, err)
		if consumer.State.IsTerminal() {
			break
		}
	}
	require.Equal(t, cn.Confirmed, consumer.State)

	provider, err := pStore.FindForCorrelationID(ctx, n.ID)
	require.NoError(t, err)
	require.Equal(t, cn.Confirmed, provider.State)
	require.Equal(t, *provider.Agreement, *consumer.Agreement)
}

package node

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

func TestMonitorShutdown(t *testing.T) {
	var calls []string
	stop := func(name string, err error) StopFunc {
		return func(context.Context) error {
			calls = append(calls, name)
			return err
		}
	}

	trigger := make(chan struct{})
	finished := MonitorShutdown(trigger,
		ShutdownHandler{Component: "api", StopFunc: stop("api", nil)},
		ShutdownHandler{Component: "node", StopFunc: stop("node", xerrors.New("stuck"))},
		ShutdownHandler{Component: "repo", StopFunc: stop("repo", nil)},
	)

	close(trigger)
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not finish")
	}
	require.Equal(t, []string{"api", "node", "repo"}, calls)
}

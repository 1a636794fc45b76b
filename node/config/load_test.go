package config

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestDecodeNothing(t *testing.T) {
	cfg, err := FromReader(bytes.NewReader(nil), DefaultNode())
	require.NoError(t, err)
	require.Equal(t, DefaultNode(), cfg)

	cfg, err = FromFile("/this/file/does/not/exist.toml", DefaultNode())
	require.NoError(t, err)
	require.Equal(t, DefaultNode(), cfg)
}

func TestPartialConfig(t *testing.T) {
	in := `
ParticipantID = "provider-a"

[Negotiation]
  Roles = "provider"
  TickInterval = "250ms"

  [Negotiation.Retry]
    MaxAttempts = 3

[Store]
  Backend = "sqlite"
`
	cfg, err := FromReader(strings.NewReader(in), DefaultNode())
	require.NoError(t, err)

	expected := DefaultNode()
	expected.ParticipantID = "provider-a"
	expected.Negotiation.Roles = RoleProvider
	expected.Negotiation.TickInterval = Duration(250 * time.Millisecond)
	expected.Negotiation.Retry.MaxAttempts = 3
	expected.Store.Backend = BackendSQLite
	require.Equal(t, expected, cfg)

	require.True(t, cfg.HasRole(RoleProvider))
	require.False(t, cfg.HasRole(RoleConsumer))
}

func TestUnknownKeysAreRejected(t *testing.T) {
	_, err := FromReader(strings.NewReader("[Negotiation]\nTickRate = 5\n"), DefaultNode())
	require.Error(t, err)
}

func TestCommentedDefaultsDecode(t *testing.T) {
	def := DefaultNode()
	def.ParticipantID = "connector"
	b, err := ConfigComment(def)
	require.NoError(t, err)
	require.Contains(t, string(b), "#  TickInterval = \"1s\"")

	cfg, err := FromReader(bytes.NewReader(b), DefaultNode())
	require.NoError(t, err)
	require.Equal(t, DefaultNode(), cfg)
}

func TestValidate(t *testing.T) {
	cfg := DefaultNode()
	cfg.ParticipantID = "consumer-1"
	require.NoError(t, cfg.Validate())

	cfg.ParticipantID = "has space"
	cfg.Store.Backend = "postgres"
	cfg.Transport.PublicURL = "not a url"
	cfg.Negotiation.Retry.MinBackoff = Duration(time.Hour)
	err := cfg.Validate()
	require.Len(t, multierr.Errors(err), 4)

	cfg = DefaultNode()
	cfg.ParticipantID = "consumer-1"
	cfg.Negotiation.DispatchTimeout = cfg.Store.LeaseDuration
	err = cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "shorter than the store lease duration")
}

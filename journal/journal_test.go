package journal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDisabledEvents(t *testing.T) {
	evts, err := ParseDisabledEvents(" negotiation:send_failed , negotiation:initiate")
	require.NoError(t, err)
	require.Equal(t, DisabledEvents{
		{System: "negotiation", Event: "send_failed"},
		{System: "negotiation", Event: "initiate"},
	}, evts)

	evts, err = ParseDisabledEvents("")
	require.NoError(t, err)
	require.Empty(t, evts)

	_, err = ParseDisabledEvents("negotiation")
	require.Error(t, err)
}

func TestEnvDisabledEvents(t *testing.T) {
	t.Setenv(envDisabledEvents, "a:b")
	require.Equal(t, DisabledEvents{{System: "a", Event: "b"}}, EnvDisabledEvents())

	t.Setenv(envDisabledEvents, "malformed")
	require.Equal(t, DefaultDisabledEvents, EnvDisabledEvents())
}

func TestRegistry(t *testing.T) {
	r := NewEventTypeRegistry(DisabledEvents{{System: "negotiation", Event: "send_failed"}})
	require.False(t, r.RegisterEventType("negotiation", "send_failed").Enabled())
	require.True(t, r.RegisterEventType("negotiation", "initiate").Enabled())
	require.False(t, EventType{System: "negotiation", Event: "initiate"}.Enabled())
	require.False(t, NilJournal().RegisterEventType("negotiation", "initiate").Enabled())
}

package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNew(t *testing.T) {
	ev, err := Parse([]byte(`New {"msg":"Hel"}`))
	require.NoError(t, err)
	n, ok := ev.(New)
	require.True(t, ok)
	assert.Equal(t, "Hel", n.Msg)
	assert.Nil(t, n.ExitCode)
	assert.False(t, ev.Terminal())
}

func TestParseNewWithExitCode(t *testing.T) {
	ev, err := Parse([]byte(`New {"msg":"done\n","exit_code":0}`))
	require.NoError(t, err)
	n := ev.(New)
	require.NotNil(t, n.ExitCode)
	assert.Equal(t, 0, *n.ExitCode)
}

func TestParseEnded(t *testing.T) {
	for _, payload := range []string{"Ended", "Ended "} {
		ev, err := Parse([]byte(payload))
		require.NoError(t, err)
		assert.Equal(t, KindEnded, ev.Kind())
		assert.True(t, ev.Terminal())
	}
}

func TestParseError(t *testing.T) {
	ev, err := Parse([]byte("Error backend down"))
	require.NoError(t, err)
	e := ev.(Error)
	assert.Equal(t, "backend down", e.Message)
	assert.True(t, ev.Terminal())
}

func TestParseUnknownKind(t *testing.T) {
	_, err := Parse([]byte("Bogus payload"))
	require.Error(t, err)
}

func TestParseMalformedNewChunk(t *testing.T) {
	_, err := Parse([]byte("New not-json"))
	require.Error(t, err)
}

func TestEncodeRoundTrip(t *testing.T) {
	code := 42
	for _, ev := range []Event{
		New{Msg: "hello world"},
		New{Msg: "x", ExitCode: &code},
		Ended{},
		Error{Message: "kernel unreachable"},
	} {
		payload, err := Encode(ev)
		require.NoError(t, err)
		back, err := Parse(payload)
		require.NoError(t, err)
		assert.Equal(t, ev, back)
	}
}

package protocol

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestKindNamesAndPredicates(t *testing.T) {
	require.Equal(t, "MSG", Kind_MSG.String())
	require.Equal(t, "STORE_HELLO", Kind_STORE_HELLO.String())
	require.Equal(t, "Kind(0x7a)", Kind('z').String())

	require.NoError(t, Kind_CONSUMER_HELLO.Validate())
	require.Equal(t, ErrUnknownKind, Kind('z').Validate())

	require.True(t, Kind_MSG.IsMessage())
	require.True(t, Kind_DIRECT_MSG.IsMessage())
	require.False(t, Kind_HEAD.IsMessage())
	require.True(t, Kind_HEAD.IsHead())
	require.True(t, Kind_DIRECT_HEAD.IsHead())
	require.False(t, Kind_FETCH.IsHead())
}

func TestEnvelopeValidationCases(t *testing.T) {
	var env = Envelope{Kind: Kind('?')}
	require.Equal(t, ErrUnknownKind, errors.Cause(env.Validate()))

	env = Envelope{Kind: Kind_MSG, Count: 2}
	require.EqualError(t, env.Validate(), "unexpected Count (2) of MSG")

	env = Envelope{Kind: Kind_HEAD, Subjects: []string{"a"}}
	require.EqualError(t, env.Validate(), "unexpected Subjects of HEAD")

	env = Envelope{Kind: Kind_CONSUMER_HELLO, Subjects: []string{"a"}}
	require.NoError(t, env.Validate())
}

func TestFilterMatching(t *testing.T) {
	var msg = &Envelope{Kind: Kind_MSG, Topic: "orders/eu"}

	require.True(t, Filter{Kind: Kind_MSG, Prefix: "orders"}.Matches(msg))
	require.True(t, Filter{Kind: Kind_MSG, Prefix: ""}.Matches(msg))
	require.False(t, Filter{Kind: Kind_HEAD, Prefix: "orders"}.Matches(msg))
	require.False(t, Filter{Kind: Kind_MSG, Prefix: "orders/us"}.Matches(msg))

	var fs = Filters{{Kind: Kind_HEAD, Prefix: "orders"}, {Kind: Kind_MSG, Prefix: "ord"}}
	require.True(t, fs.Matches(msg))
	require.False(t, fs[:1].Matches(msg))
	require.False(t, Filters(nil).Matches(msg))
}

func TestEndpointValidationCases(t *testing.T) {
	require.NoError(t, Endpoint("tcp://127.0.0.1:5556").Validate())
	require.NoError(t, Endpoint("tcp://host.example:80/").Validate())
	require.Equal(t, "127.0.0.1:5556", Endpoint("tcp://127.0.0.1:5556").Addr())

	require.EqualError(t, Endpoint("http://host:80").Validate(),
		"unsupported Endpoint scheme (http; expected tcp)")
	require.EqualError(t, Endpoint("tcp://host").Validate(),
		"Endpoint must have a host and port (tcp://host)")
	require.EqualError(t, Endpoint("tcp://host:80/path").Validate(),
		"Endpoint may not have a path (tcp://host:80/path)")
	require.Error(t, Endpoint("tcp://%zz").Validate())
}

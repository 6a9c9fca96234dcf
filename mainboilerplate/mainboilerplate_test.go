package mainboilerplate

import (
	"strings"
	"testing"

	"github.com/jessevdk/go-flags"
	"github.com/stretchr/testify/require"
)

type noopCmd struct{}

func (noopCmd) Execute([]string) error { return nil }

func TestCommandRegistry(t *testing.T) {
	var reg = NewCommandRegistry()
	reg.AddCommand("", "streams", "Streams", "", &struct{}{})
	reg.AddCommand("streams", "list", "List streams", "", &noopCmd{})
	reg.AddCommand("", "consume", "Consume", "", &noopCmd{})

	var parser = flags.NewParser(nil, flags.None)
	require.NoError(t, reg.AddCommands("", parser.Command, true))

	var streams = parser.Find("streams")
	require.NotNil(t, streams)
	require.NotNil(t, streams.Find("list"))
	require.NotNil(t, parser.Find("consume"))

	// Non-recursive registration adds only top-level commands.
	parser = flags.NewParser(nil, flags.None)
	require.NoError(t, reg.AddCommands("", parser.Command, false))
	require.Nil(t, parser.Find("streams").Find("list"))
}

func TestServiceProcessID(t *testing.T) {
	require.Equal(t, "fixed", ServiceConfig{ID: "fixed"}.ProcessID())

	var id = ServiceConfig{}.ProcessID()
	require.Len(t, strings.Split(id, "-"), 2)
}

func TestServiceServer(t *testing.T) {
	var srv, ep = ServiceConfig{Host: "example.host"}.MustServer()
	defer srv.Stop()

	require.NoError(t, ep.Validate())
	require.True(t, strings.HasPrefix(ep.String(), "tcp://example.host:"))
}

func TestMustPanicsWithError(t *testing.T) {
	require.NotPanics(t, func() { Must(nil, "ok") })
	require.Panics(t, func() { Must(flags.ErrNotPointerToStruct, "failed", "key", "value") })
}

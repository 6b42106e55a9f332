package dispatch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/ministack/internal/core"
	"firestige.xyz/ministack/internal/core/buf"
)

func TestRegistry_Dispatch(t *testing.T) {
	r := NewRegistry[core.EtherType, core.MAC]()

	var gotLen int
	var gotSrc core.MAC
	r.Register(core.EtherTypeARP, func(b *buf.Buffer, src core.MAC) {
		gotLen = b.Len()
		gotSrc = src
	})

	src := core.MAC{1, 2, 3, 4, 5, 6}
	err := r.Dispatch(buf.FromBytes(make([]byte, 28)), core.EtherTypeARP, src)
	require.NoError(t, err)
	assert.Equal(t, 28, gotLen)
	assert.Equal(t, src, gotSrc)
}

func TestRegistry_NotFound(t *testing.T) {
	r := NewRegistry[core.IPProtocol, core.IPv4Addr]()

	err := r.Dispatch(buf.New(0), core.IPProtocol(6), core.IPv4Addr{})
	assert.True(t, errors.Is(err, core.ErrProtocolNotFound))
	assert.Contains(t, err.Error(), "0x6")
}

func TestRegistry_RegisterOverwrites(t *testing.T) {
	r := NewRegistry[core.IPProtocol, core.IPv4Addr]()

	calls := ""
	r.Register(core.IPProtocolUDP, func(*buf.Buffer, core.IPv4Addr) { calls += "a" })
	r.Register(core.IPProtocolUDP, func(*buf.Buffer, core.IPv4Addr) { calls += "b" })

	require.NoError(t, r.Dispatch(buf.New(0), core.IPProtocolUDP, core.IPv4Addr{}))
	assert.Equal(t, "b", calls)
}

func TestRegistry_UnregisterAndProtocols(t *testing.T) {
	r := NewRegistry[core.IPProtocol, core.IPv4Addr]()
	noop := func(*buf.Buffer, core.IPv4Addr) {}

	r.Register(core.IPProtocolUDP, noop)
	r.Register(core.IPProtocolICMP, noop)
	assert.Equal(t, []core.IPProtocol{core.IPProtocolICMP, core.IPProtocolUDP}, r.Protocols())

	r.Unregister(core.IPProtocolUDP)
	assert.Equal(t, []core.IPProtocol{core.IPProtocolICMP}, r.Protocols())
}

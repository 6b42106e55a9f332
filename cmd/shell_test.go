package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"firestige.xyz/ministack/internal/config"
	"firestige.xyz/ministack/internal/core"
	"firestige.xyz/ministack/internal/netstack"
)

// MockClient implements StackClient
type MockClient struct {
	mock.Mock
}

func (m *MockClient) ARPTable(ctx context.Context, w io.Writer) error {
	args := m.Called(ctx, w)
	return args.Error(0)
}

func (m *MockClient) Send(ctx context.Context, dst core.IPv4Addr, dstPort, srcPort uint16, data []byte) error {
	args := m.Called(ctx, dst, dstPort, srcPort, data)
	return args.Error(0)
}

func (m *MockClient) Listen(ctx context.Context, port uint16) error {
	args := m.Called(ctx, port)
	return args.Error(0)
}

func (m *MockClient) Unlisten(ctx context.Context, port uint16) error {
	args := m.Called(ctx, port)
	return args.Error(0)
}

func (m *MockClient) Stats(ctx context.Context) (netstack.Stats, error) {
	args := m.Called(ctx)
	return args.Get(0).(netstack.Stats), args.Error(1)
}

func TestShellSend(t *testing.T) {
	dst := core.MustParseIPv4("10.0.0.9")

	tests := []struct {
		name    string
		line    string
		srcPort uint16
		data    string
	}{
		{"default source port", "send 10.0.0.9 7 hello", defaultSrcPort, "hello"},
		{"explicit source port", "send 10.0.0.9 7 hello 5000", 5000, "hello"},
		{"quoted text", `send 10.0.0.9 7 "hello, stack" 5000`, 5000, "hello, stack"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockClient := new(MockClient)
			mockClient.On("Send", mock.Anything, dst, uint16(7), tt.srcPort, []byte(tt.data)).Return(nil)

			var buf bytes.Buffer
			err := executeShellLine(context.Background(), mockClient, tt.line, &buf)

			assert.NoError(t, err)
			assert.Contains(t, buf.String(), "sent")
			mockClient.AssertExpectations(t)
		})
	}
}

func TestShellSendErrors(t *testing.T) {
	tests := []struct {
		name string
		line string
		want string
	}{
		{"bad address", "send 10.0.0 7 x", "invalid address"},
		{"bad port", "send 10.0.0.9 70000 x", "invalid port"},
		{"bad source port", "send 10.0.0.9 7 x abc", "invalid port"},
		{"missing text", "send 10.0.0.9 7", "accepts between 3 and 4 arg(s)"},
		{"open quote", `send 10.0.0.9 7 "x`, "unterminated quote"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockClient := new(MockClient)
			var buf bytes.Buffer

			err := executeShellLine(context.Background(), mockClient, tt.line, &buf)

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			mockClient.AssertNotCalled(t, "Send")
		})
	}
}

func TestShellSendPropagatesClientError(t *testing.T) {
	mockClient := new(MockClient)
	mockClient.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(core.ErrPayloadTooLarge)

	var buf bytes.Buffer
	err := executeShellLine(context.Background(), mockClient, "send 10.0.0.9 7 x", &buf)

	assert.ErrorIs(t, err, core.ErrPayloadTooLarge)
	assert.Empty(t, buf.String())
}

func TestShellListenAndClose(t *testing.T) {
	mockClient := new(MockClient)
	mockClient.On("Listen", mock.Anything, uint16(9000)).Return(nil)
	mockClient.On("Unlisten", mock.Anything, uint16(9000)).Return(nil)

	var buf bytes.Buffer
	require.NoError(t, executeShellLine(context.Background(), mockClient, "listen 9000", &buf))
	require.NoError(t, executeShellLine(context.Background(), mockClient, "close 9000", &buf))

	assert.Contains(t, buf.String(), "listening on udp port 9000")
	mockClient.AssertExpectations(t)
}

func TestShellStats(t *testing.T) {
	mockClient := new(MockClient)
	mockClient.On("Stats", mock.Anything).Return(netstack.Stats{ARPEntries: 2, ARPPending: 1, UDPPorts: 3}, nil)

	var buf bytes.Buffer
	require.NoError(t, executeShellLine(context.Background(), mockClient, "stats", &buf))

	assert.Contains(t, buf.String(), "arp entries: 2")
	assert.Contains(t, buf.String(), "arp pending: 1")
	assert.Contains(t, buf.String(), "udp ports:   3")
}

func TestShellARP(t *testing.T) {
	mockClient := new(MockClient)
	mockClient.On("ARPTable", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			io.WriteString(args.Get(1).(io.Writer), "===ARP TABLE BEGIN===\n")
		}).
		Return(nil)

	var buf bytes.Buffer
	require.NoError(t, executeShellLine(context.Background(), mockClient, "arp", &buf))

	assert.Contains(t, buf.String(), "ARP TABLE BEGIN")
	mockClient.AssertExpectations(t)
}

func TestShellStoppedStack(t *testing.T) {
	mockClient := new(MockClient)
	mockClient.On("Stats", mock.Anything).Return(netstack.Stats{}, core.ErrStackStopped)

	err := executeShellLine(context.Background(), mockClient, "stats", io.Discard)
	assert.True(t, errors.Is(err, core.ErrStackStopped))
}

func TestShellHelpAndUnknown(t *testing.T) {
	mockClient := new(MockClient)

	var buf bytes.Buffer
	require.NoError(t, executeShellLine(context.Background(), mockClient, "help", &buf))
	for _, name := range []string{"arp", "send", "listen", "close", "stats", "exit"} {
		assert.Contains(t, buf.String(), name)
	}

	err := executeShellLine(context.Background(), mockClient, "ping 10.0.0.9", io.Discard)
	assert.Error(t, err)
}

func TestSplitShellLine(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"", nil},
		{"  stats  ", []string{"stats"}},
		{"send 1.2.3.4 7 hi", []string{"send", "1.2.3.4", "7", "hi"}},
		{`send 1.2.3.4 7 "a  b"`, []string{"send", "1.2.3.4", "7", "a  b"}},
		{`send 1.2.3.4 7 ""`, []string{"send", "1.2.3.4", "7", ""}},
	}

	for _, tt := range tests {
		got, err := splitShellLine(tt.input)
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.want, got, tt.input)
	}
}

func TestCompleteShellCommand(t *testing.T) {
	assert.Equal(t, []string{"send "}, completeShellCommand("se"))
	assert.Equal(t, []string{"send ", "stats"}, completeShellCommand("s"))
	assert.Empty(t, completeShellCommand("x"))
}

// syncBuffer is a bytes.Buffer safe for the stack goroutine to write into.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestShellPeerEcho(t *testing.T) {
	cfg := &config.GlobalConfig{
		Node: config.NodeConfig{
			Addr:   core.MustParseIPv4("10.0.0.2"),
			HWAddr: core.MAC{0x02, 0, 0, 0, 0, 0x02},
		},
		Link: config.LinkConfig{MTU: 1500, Interval: time.Millisecond},
		ARP:  config.ARPConfig{EntryTTL: time.Minute, PendingTTL: time.Second, Announce: true},
		UDP:  config.UDPConfig{EchoPorts: []int{9}},
	}

	out := &syncBuffer{}
	client, shutdown, err := startShellStacks(context.Background(), cfg, "10.0.0.9", out)
	require.NoError(t, err)
	defer shutdown()

	ctx := context.Background()
	require.NoError(t, executeShellLine(ctx, client, "listen 40000", out))
	require.NoError(t, executeShellLine(ctx, client, `send 10.0.0.9 9 "over the pipe"`, out))

	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), `[udp 40000] 10.0.0.9:9 "over the pipe"`)
	}, 3*time.Second, 10*time.Millisecond, "echo reply not reported: %s", out.String())

	var table bytes.Buffer
	require.NoError(t, client.ARPTable(ctx, &table))
	assert.Contains(t, table.String(), "10.0.0.9 | 02-00-0A-00-00-09 |")

	st, err := client.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.UDPPorts)
	assert.Equal(t, 1, st.ARPEntries)
}

func TestShellPeerInvalidAddress(t *testing.T) {
	cfg := &config.GlobalConfig{Link: config.LinkConfig{MTU: 1500}}
	_, _, err := startShellStacks(context.Background(), cfg, "not-an-ip", io.Discard)
	assert.ErrorIs(t, err, core.ErrInvalidAddress)
}

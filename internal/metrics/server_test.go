package metrics

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerServesCollectors(t *testing.T) {
	FramesReceivedTotal.Inc()
	DropsTotal.WithLabelValues("ip", "bad_checksum").Inc()
	TableSize.WithLabelValues(TableARP).Set(3)

	s := NewServer("127.0.0.1:0", "")
	require.NoError(t, s.Start())
	defer s.Stop(context.Background())

	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "ministack_frames_received_total")
	assert.Contains(t, string(body), `ministack_drops_total{layer="ip",reason="bad_checksum"}`)
	assert.Contains(t, string(body), `ministack_table_entries{table="arp"} 3`)
}

func TestServerStopBeforeStart(t *testing.T) {
	s := NewServer(":0", "/m")
	assert.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, ":0", s.Addr())
}

func TestServerBindError(t *testing.T) {
	s := NewServer("256.0.0.1:99999", "")
	assert.Error(t, s.Start())
}

package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"firestige.xyz/ministack/internal/core"
)

const validConfig = `
ministack:
  node:
    ip: 192.168.7.2
    mac: "02:00:00:00:07:02"
  link:
    driver: pcap
    options:
      output: /tmp/ministack-out.pcap
  udp:
    echo_ports: [7, 9]
`

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestRunValidate_Valid(t *testing.T) {
	var buf bytes.Buffer
	err := runValidate(writeTempConfig(t, validConfig), false, &buf)

	assert.NoError(t, err)
	assert.Contains(t, buf.String(), "VALID: 192.168.7.2 on 02-00-00-00-07-02")
	assert.Contains(t, buf.String(), "driver pcap, mtu 1500, 2 echo port(s)")
}

func TestRunValidate_Print(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, runValidate(writeTempConfig(t, validConfig), true, &buf))

	// skip the VALID line, the rest is the effective configuration
	_, doc, found := bytes.Cut(buf.Bytes(), []byte("\n"))
	require.True(t, found)

	var printed struct {
		Ministack struct {
			Link struct {
				Driver       string `yaml:"driver"`
				MTU          int    `yaml:"mtu"`
				PollInterval string `yaml:"poll_interval"`
			} `yaml:"link"`
			ARP struct {
				Timeout string `yaml:"timeout"`
			} `yaml:"arp"`
		} `yaml:"ministack"`
	}
	require.NoError(t, yaml.Unmarshal(doc, &printed))

	assert.Equal(t, "pcap", printed.Ministack.Link.Driver)
	assert.Equal(t, 1500, printed.Ministack.Link.MTU)
	assert.Equal(t, "1ms", printed.Ministack.Link.PollInterval)
	assert.Equal(t, "5m", printed.Ministack.ARP.Timeout)
}

func TestRunValidate_Invalid(t *testing.T) {
	var buf bytes.Buffer
	err := runValidate(writeTempConfig(t, "ministack:\n  node:\n    ip: 192.168.7.2\n"), false, &buf)

	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
	assert.Empty(t, buf.String())
}

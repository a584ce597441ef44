package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/l0p7/domainscout/internal/config"
	"github.com/stretchr/testify/require"
)

func TestNewAcceptsKnownLevelsAndFormats(t *testing.T) {
	logger, err := New(config.LoggingConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	require.NotNil(t, logger)

	logger, err = New(config.LoggingConfig{Level: "debug", Format: "text"})
	require.NoError(t, err)
	require.NotNil(t, logger)
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "verbose"})
	require.Error(t, err)
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	_, err := New(config.LoggingConfig{Format: "binary"})
	require.Error(t, err)
}

func TestAgentLoggerCarriesComponentAndAgent(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf)
	require.NoError(t, err)

	Agent(logger, "collector").Info("checked", "domain", "example.cl")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "domainscout", entry["component"])
	require.Equal(t, "collector", entry["agent"])
	require.Equal(t, "example.cl", entry["domain"])
}

func TestAgentWithNilLoggerDiscards(t *testing.T) {
	logger := Agent(nil, "collector")
	require.NotNil(t, logger)
	logger.Info("ignored")
}

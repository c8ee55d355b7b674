package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitJSON(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.DebugLevel)
	var buf bytes.Buffer
	Init(Config{Level: WarnLevel, JSONOutput: true, Output: &buf})

	logger := WithComponent("api")
	logger.Info().Msg("dropped")
	logger.Warn().Str("ip", "10.0.0.7").Msg("rate limited")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "api", entry["component"])
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "rate limited", entry["message"])
	assert.Equal(t, "10.0.0.7", entry["ip"])
}

func TestInitConsole(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.DebugLevel)
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, Output: &buf})

	Warn("store slow")
	assert.Contains(t, buf.String(), "store slow")
	assert.False(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
}

func TestErrorAttachesCause(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.DebugLevel)
	var buf bytes.Buffer
	Init(Config{Level: InfoLevel, JSONOutput: true, Output: &buf})

	Error("worker failed", errors.New("queue closed"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "worker failed", entry["message"])
	assert.Equal(t, "queue closed", entry["error"])
}

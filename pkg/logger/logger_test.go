package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T, level string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	Init(Options{Level: level, Format: "json", Output: &buf})
	t.Cleanup(func() { Init(Options{}) })
	return &buf
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel(" warn "))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("loud"))
}

func TestJSONOutputCarriesComponentAndFields(t *testing.T) {
	buf := capture(t, "info")

	InfoCF("relay", "Signal posted", map[string]interface{}{
		"thread": "1:100",
		"error":  errors.New("boom"),
	})

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "relay", line["component"])
	assert.Equal(t, "Signal posted", line["message"])
	assert.Equal(t, "1:100", line["thread"])
	assert.Equal(t, "boom", line["error"])
}

func TestLevelFiltersOutput(t *testing.T) {
	buf := capture(t, "warn")

	DebugC("relay", "hidden")
	InfoC("relay", "hidden")
	assert.Zero(t, buf.Len())

	ErrorC("relay", "shown")
	assert.Contains(t, buf.String(), "shown")
}

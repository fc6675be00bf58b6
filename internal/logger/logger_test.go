package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DefaultsLevelFormatAndOutput(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Output: &buf})
	log.Info("hello", nil)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "INFO", entry["level"], "the default format must be json")
}

func TestLogger_LevelFiltering_DropsBelowConfiguredLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Format: "json", Output: &buf})

	log.Debug("debug msg", nil)
	log.Info("info msg", nil)
	assert.Empty(t, buf.String(), "debug/info must be dropped when the level is warn")

	log.Warn("warn msg", nil)
	assert.Contains(t, buf.String(), "warn msg")
}

func TestLogger_JSONFormat_EncodesServiceAndFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Format: "json", Service: "virtualpytest-host", Output: &buf})
	log.Info("device busy", Fields{"device_id": "device-1"})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "virtualpytest-host", entry["service"])
	assert.Equal(t, "device busy", entry["message"])
	assert.Equal(t, "device-1", entry["device_id"])
}

func TestLogger_TextFormat_IncludesLevelAndFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Format: "text", Service: "host", Output: &buf})
	log.Warn("heartbeat failed", Fields{"host_id": "host-1"})

	out := buf.String()
	assert.True(t, strings.Contains(out, "[WARN]"))
	assert.True(t, strings.Contains(out, "host_id=host-1"))
}

func TestLogger_With_MergesAndOverridesFields(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Format: "json", Output: &buf})
	scoped := base.With(Fields{"device_id": "device-1", "category": "remote"})
	scoped.Info("driver execute", Fields{"category": "av"})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "device-1", entry["device_id"], "fields from With must persist across calls")
	assert.Equal(t, "av", entry["category"], "a per-call field must override the one bound by With")
}

func TestNoop_DiscardsEverythingAtAnyLevel(t *testing.T) {
	log := Noop()
	log.Debug("d", nil)
	log.Info("i", nil)
	log.Warn("w", nil)
	log.Error("e", Fields{"k": "v"})
	// Nothing to assert beyond "does not panic and writes nowhere
	// observable" -- Noop's output is io.Discard by construction.
}

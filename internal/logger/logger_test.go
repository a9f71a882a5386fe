package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_ProductionJSON(t *testing.T) {
	var buf bytes.Buffer
	Init(false, &buf)

	WithFields(map[string]interface{}{"ip": "1.2.3.4"}).Info("verdict recorded")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "1.2.3.4", line["ip"])
	assert.Equal(t, "verdict recorded", line["msg"])

	// Debug entries are suppressed in production.
	buf.Reset()
	Log().Debug("dropped")
	assert.Empty(t, buf.String())
}

func TestInit_DebugText(t *testing.T) {
	var buf bytes.Buffer
	Init(true, &buf)

	Log().Debug("geoip lookup failed")

	assert.Contains(t, buf.String(), "geoip lookup failed")
	// Text formatter, not JSON.
	assert.NotContains(t, buf.String(), `"msg"`)
}

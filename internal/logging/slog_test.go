package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWriter_LevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "WARN")
	log.Info("hidden")
	log.Warn("order placement failed", "order_id", "o-1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "order placement failed", line["msg"])
	assert.Equal(t, "o-1", line["order_id"])
	assert.Equal(t, "WARN", line["level"])
}

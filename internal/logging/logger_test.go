package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "warn", "json")

	logger.Info("dropped")
	logger.Warn("kept", "identity_id", "id-1")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "kept", rec["msg"])
	assert.Equal(t, "id-1", rec["identity_id"])
}

func TestNewWithWriterTextAndBadLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "loud", "TEXT")

	logger.Debug("dropped")
	logger.Info("kept")

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, "msg=kept")
}

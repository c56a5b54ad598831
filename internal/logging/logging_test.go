package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_JSON(t *testing.T) {
	req := require.New(t)
	var buf bytes.Buffer

	log, err := New(&buf, "info", "json")
	req.NoError(err)

	log.Debug("hidden")
	log.Info("connection registered", "name", "alice")

	var entry map[string]any
	req.NoError(json.Unmarshal(buf.Bytes(), &entry))
	req.Equal("connection registered", entry["msg"])
	req.Equal("alice", entry["name"])
}

func TestNew_TextAndLevel(t *testing.T) {
	req := require.New(t)
	var buf bytes.Buffer

	log, err := New(&buf, "WARN", "text")
	req.NoError(err)

	log.Info("hidden")
	log.Warn("handshake timed out")
	req.NotContains(buf.String(), "hidden")
	req.Contains(buf.String(), "msg=\"handshake timed out\"")
}

func TestNew_Rejects(t *testing.T) {
	_, err := New(&bytes.Buffer{}, "loud", "json")
	require.Error(t, err)

	_, err = New(&bytes.Buffer{}, "info", "xml")
	require.Error(t, err)
}

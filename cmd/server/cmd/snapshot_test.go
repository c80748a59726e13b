package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Togather-Foundation/eventsite/internal/homepage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePhase(t *testing.T) {
	phase, err := parsePhase("server")
	require.NoError(t, err)
	assert.Equal(t, homepage.PhaseServer, phase)

	phase, err = parsePhase("client")
	require.NoError(t, err)
	assert.Equal(t, homepage.PhaseClient, phase)

	_, err = parsePhase("browser")
	assert.Error(t, err)
}

func TestWriteSnapshotFormats(t *testing.T) {
	snap := homepage.Empty()

	var jsonOut bytes.Buffer
	require.NoError(t, writeSnapshot(&jsonOut, snap, "json"))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(jsonOut.Bytes(), &decoded))
	assert.Equal(t, snap.ID, decoded["id"])

	var yamlOut bytes.Buffer
	require.NoError(t, writeSnapshot(&yamlOut, snap, "yaml"))
	assert.Contains(t, yamlOut.String(), "id: "+snap.ID)
	assert.Contains(t, yamlOut.String(), "latest_events: []")

	assert.Error(t, writeSnapshot(&bytes.Buffer{}, snap, "xml"))
}

func TestSnapshotCommandDegradedUpstream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"down"}`, http.StatusInternalServerError)
	}))
	t.Cleanup(upstream.Close)

	t.Setenv("API_BASE_URL", upstream.URL)
	t.Setenv("API_MAX_RETRIES", "0")
	t.Setenv("LOG_LEVEL", "error")

	root := newRootCommand()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(new(bytes.Buffer))
	root.SetArgs([]string{"snapshot", "--format", "json"})
	require.NoError(t, root.Execute())

	var snap homepage.Snapshot
	require.NoError(t, json.Unmarshal(buf.Bytes(), &snap))
	assert.NotEmpty(t, snap.ID)
	assert.NotEmpty(t, snap.Degraded)
	assert.Empty(t, snap.LatestEvents)
}

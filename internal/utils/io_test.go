package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveJSONCreatesParents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "result.json")

	type payload struct {
		Name   string  `json:"name"`
		Energy float64 `json:"energy"`
	}
	require.NoError(t, SaveJSON(path, payload{Name: "h2", Energy: -1.1373}))

	var got payload
	require.NoError(t, LoadJSON(path, &got))
	assert.Equal(t, "h2", got.Name)
	assert.InDelta(t, -1.1373, got.Energy, 0)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, byte('\n'), data[len(data)-1])
}

func TestLoadJSONMissingFile(t *testing.T) {
	var v map[string]int
	err := LoadJSON(filepath.Join(t.TempDir(), "nope.json"), &v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read")
}

func TestLoadJSONBadContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	var v map[string]int
	err := LoadJSON(path, &v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode")
}

package weights

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_FallsBackToDefaults(t *testing.T) {
	s := NewStore(t.TempDir())

	assert.Equal(t, "default", s.Source())
	assert.Equal(t, DefaultVector(), s.Current())
}

func TestStore_PrefersLearnedOverManual(t *testing.T) {
	dir := t.TempDir()

	writeDoc(t, filepath.Join(dir, "weights_manual.json"), Vector{"funding": 0.10})
	writeDoc(t, filepath.Join(dir, "weights_learned.json"), Vector{"funding": 0.30})

	s := NewStore(dir)
	assert.Equal(t, "learned", s.Source())
	assert.Equal(t, 0.30, s.Current()["funding"])
}

func TestStore_MalformedLearnedFallsThroughToManual(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "weights_learned.json"), []byte("{not json"), 0644))
	writeDoc(t, filepath.Join(dir, "weights_manual.json"), Vector{"funding": 0.12, "ofi": 0.2})

	s := NewStore(dir)
	assert.Equal(t, "manual", s.Source())
	assert.Equal(t, 0.12, s.Current()["funding"])
}

func TestStore_SetPersistsAtomicallyAndClamps(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	require.NoError(t, s.Set(Vector{"funding": 0.9, "ofi": -0.1}))

	cur := s.Current()
	assert.Equal(t, MaxWeight, cur["funding"])
	assert.Equal(t, MinWeight, cur["ofi"])

	// No temp file left behind, and a fresh store reads the same state.
	_, err := os.Stat(filepath.Join(dir, "weights_learned.json.tmp"))
	assert.True(t, os.IsNotExist(err))

	reloaded := NewStore(dir)
	assert.Equal(t, "learned", reloaded.Source())
	assert.Equal(t, cur, reloaded.Current())
}

func TestVector_ClampNaN(t *testing.T) {
	v := Vector{"bad": math.NaN()}
	assert.Equal(t, MinWeight, v.Clamp()["bad"])
}

func writeDoc(t *testing.T, path string, vec Vector) {
	t.Helper()
	data, err := json.Marshal(persisted{Weights: vec})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))
}

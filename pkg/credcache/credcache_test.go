package credcache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Test constants to avoid literal duplication.
const (
	repoA = "contoso/web"
	repoB = "contoso/api"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "containerapps", "credentials.json")
	s := New(path, zap.NewNop())
	s.now = func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) }
	return s, path
}

func readRecords(t *testing.T, path string) []Record {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var records []Record
	require.NoError(t, json.Unmarshal(data, &records))
	return records
}

func TestGetEmptyCache(t *testing.T) {
	s, _ := newTestStore(t)

	token, found, err := s.Get(repoA)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, token)
}

func TestPutAndGet(t *testing.T) {
	s, path := newTestStore(t)

	require.NoError(t, s.Put("tok1", repoA, repoB))

	token, found, err := s.Get("Contoso/Web")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "tok1", token)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(fileMode), info.Mode().Perm())

	records := readRecords(t, path)
	require.Len(t, records, 1)
	assert.Equal(t, "2024-05-01T00:00:00Z", records[0].LastModifiedTimestamp)
	assert.Equal(t, []string{repoA, repoB}, records[0].Repos)
}

func TestPutMovesRepoToNewToken(t *testing.T) {
	s, path := newTestStore(t)

	require.NoError(t, s.Put("tok1", repoA, repoB))
	require.NoError(t, s.Put("tok2", repoA))

	token, _, err := s.Get(repoA)
	require.NoError(t, err)
	assert.Equal(t, "tok2", token)
	token, _, err = s.Get(repoB)
	require.NoError(t, err)
	assert.Equal(t, "tok1", token)

	require.NoError(t, s.Put("tok2", repoB))
	records := readRecords(t, path)
	require.Len(t, records, 1)
	assert.Equal(t, "tok2", records[0].Value)
	assert.ElementsMatch(t, []string{repoA, repoB}, records[0].Repos)
}

func TestPutEmptyToken(t *testing.T) {
	s, _ := newTestStore(t)
	assert.ErrorIs(t, s.Put("", repoA), ErrEmptyToken)
}

func TestCorruptCache(t *testing.T) {
	s, path := newTestStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, _, err := s.Get(repoA)
	assert.ErrorIs(t, err, ErrCorruptCache)
}

package seen

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) (*Index, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seen.db")
	idx, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx, path
}

func TestMarkAndGet(t *testing.T) {
	idx, _ := openTemp(t)
	at := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	entry, err := idx.Get("https://b/a.pfx")
	require.NoError(t, err)
	assert.Nil(t, entry)

	require.NoError(t, idx.Mark("https://b/a.pfx", Entry{State: "formatted", Path: "certs_1/a.pfx", At: at}))

	entry, err = idx.Get("https://b/a.pfx")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "formatted", entry.State)
	assert.Equal(t, "certs_1/a.pfx", entry.Path)
	assert.True(t, at.Equal(entry.At))

	ok, err := idx.Seen("https://b/a.pfx")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMarkDefaultsTime(t *testing.T) {
	idx, _ := openTemp(t)
	require.NoError(t, idx.Mark("u", Entry{State: "quarantined"}))

	entry, err := idx.Get("u")
	require.NoError(t, err)
	assert.False(t, entry.At.IsZero())
}

func TestUnseen(t *testing.T) {
	idx, _ := openTemp(t)
	require.NoError(t, idx.Mark("b", Entry{State: "formatted"}))

	urls, err := idx.Unseen([]string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, urls)
}

func TestPersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seen.db")
	idx, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, idx.Mark("a", Entry{State: "formatted"}))
	require.NoError(t, idx.Close())

	idx, err = Open(path)
	require.NoError(t, err)
	defer idx.Close()

	ok, err := idx.Seen("a")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNilIndex(t *testing.T) {
	var idx *Index
	_, err := idx.Get("a")
	assert.ErrorIs(t, err, NoDbError{})
	assert.ErrorIs(t, idx.Mark("a", Entry{}), NoDbError{})
	_, err = idx.Unseen([]string{"a"})
	assert.ErrorIs(t, err, NoDbError{})
	assert.NoError(t, idx.Close())
}

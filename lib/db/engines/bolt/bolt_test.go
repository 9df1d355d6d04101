package bolt

import (
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/rKV/lib/db"
	dbtesting "github.com/ValentinKolb/rKV/lib/db/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test(t *testing.T) {
	dir := t.TempDir()
	var n atomic.Int64
	dbtesting.RunKVDBTests(t, "BoltDB", func() db.KVDB {
		path := filepath.Join(dir, fmt.Sprintf("test-%d.db", n.Add(1)))
		database, err := NewBoltDB(path, &Options{NoSync: true})
		require.NoError(t, err)
		return database
	})
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")

	database, err := NewBoltDB(path, nil)
	require.NoError(t, err)
	require.NoError(t, database.Set("ns", []byte("key"), []byte("value")))
	require.NoError(t, database.Close())

	database, err = NewBoltDB(path, nil)
	require.NoError(t, err)
	defer database.Close()

	value, ok, err := database.Get("ns", []byte("key"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("value"), value)
	assert.True(t, database.SupportsFeature(db.FeaturePersistent))
	assert.Equal(t, 1, database.GetInfo().Entries)
}

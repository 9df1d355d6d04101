package memory

import (
	"testing"

	"github.com/ValentinKolb/rKV/lib/db"
	dbtesting "github.com/ValentinKolb/rKV/lib/db/testing"
)

func Test(t *testing.T) {
	dbtesting.RunKVDBTests(t, "MemoryDB", func() db.KVDB {
		return NewMemoryDB()
	})
}

func TestInfo(t *testing.T) {
	database := NewMemoryDB()
	defer database.Close()

	_ = database.Set("a", []byte("1"), []byte("x"))
	_ = database.Set("a", []byte("2"), []byte("x"))
	_ = database.Set("b", []byte("1"), []byte("x"))

	info := database.GetInfo()
	if info.Entries != 3 || info.Buckets != 2 {
		t.Errorf("Expected 3 entries in 2 buckets, got %d in %d", info.Entries, info.Buckets)
	}
	if database.SupportsFeature(db.FeaturePersistent) {
		t.Errorf("Memory database must not report persistence")
	}
}

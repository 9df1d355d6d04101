package testing

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/ValentinKolb/rKV/lib/db"
)

// DBFactory is a function that creates a new instance of a KVDB implementation
type DBFactory func() db.KVDB

// RunKVDBTests runs a comprehensive test suite for a KVDB implementation.
func RunKVDBTests(t *testing.T, name string, factory DBFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Set&Get", func(t *testing.T) {
			testSetGet(t, factory())
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory())
		})

		t.Run("Has", func(t *testing.T) {
			testHas(t, factory())
		})

		t.Run("BucketIsolation", func(t *testing.T) {
			testBucketIsolation(t, factory())
		})

		t.Run("Update", func(t *testing.T) {
			testUpdate(t, factory())
		})

		t.Run("ConcurrentUpdate", func(t *testing.T) {
			testConcurrentUpdate(t, factory())
		})

		t.Run("ForEach", func(t *testing.T) {
			testForEach(t, factory())
		})

		t.Run("SaveLoad", func(t *testing.T) {
			testSaveLoad(t, factory)
		})

		t.Run("Close", func(t *testing.T) {
			testClose(t, factory())
		})

		t.Run("RealisticUsage", func(t *testing.T) {
			testRealisticUsage(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the database supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, database db.KVDB, feature db.Feature) {
	if !database.SupportsFeature(feature) {
		t.Skip()
	}
}

func mustGet(t *testing.T, database db.KVDB, bucket, key string) ([]byte, bool) {
	t.Helper()
	value, ok, err := database.Get(bucket, []byte(key))
	if err != nil {
		t.Fatalf("Unexpected error during Get: %v", err)
	}
	return value, ok
}

func mustSet(t *testing.T, database db.KVDB, bucket, key string, value []byte) {
	t.Helper()
	if err := database.Set(bucket, []byte(key), value); err != nil {
		t.Fatalf("Unexpected error during Set: %v", err)
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testSetGet(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet)

	bucket := "test"
	testKey := "test-key"
	testValue1 := []byte("test-value1")
	testValue2 := []byte("test-value2")

	mustSet(t, database, bucket, testKey, testValue1)

	result, exists := mustGet(t, database, bucket, testKey)
	if !exists {
		t.Errorf("Expected key %s to exist after Set", testKey)
	}
	if !bytes.Equal(result, testValue1) {
		t.Errorf("Expected value %s, got %s", testValue1, result)
	}

	mustSet(t, database, bucket, testKey, testValue2)

	result, exists = mustGet(t, database, bucket, testKey)
	if !exists {
		t.Errorf("Expected key %s to exist after Set", testKey)
	}
	if !bytes.Equal(result, testValue2) {
		t.Errorf("Expected value %s, got %s", testValue2, result)
	}

	_, exists = mustGet(t, database, bucket, "nonexistent-key")
	if exists {
		t.Errorf("Expected nonexistent key to return exists=false")
	}
	_, exists = mustGet(t, database, "nonexistent-bucket", testKey)
	if exists {
		t.Errorf("Expected key in nonexistent bucket to return exists=false")
	}

	retrievedValue, _ := mustGet(t, database, bucket, testKey)
	retrievedValue[0] = 'X'

	originalValue, _ := mustGet(t, database, bucket, testKey)
	if bytes.Equal(retrievedValue, originalValue) {
		t.Errorf("Get should return a copy, not a reference to the stored value")
	}

	input := []byte("mutable")
	mustSet(t, database, bucket, "copy-key", input)
	input[0] = 'X'
	stored, _ := mustGet(t, database, bucket, "copy-key")
	if !bytes.Equal(stored, []byte("mutable")) {
		t.Errorf("Set should copy the value, got %s", stored)
	}
}

func testDelete(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet|db.FeatureDelete)

	mustSet(t, database, "test", "delete-key", []byte("value"))

	existed, err := database.Delete("test", []byte("delete-key"))
	if err != nil {
		t.Fatalf("Unexpected error during Delete: %v", err)
	}
	if !existed {
		t.Errorf("Expected Delete to report an existing key")
	}

	if _, exists := mustGet(t, database, "test", "delete-key"); exists {
		t.Errorf("Expected key to be gone after Delete")
	}

	existed, err = database.Delete("test", []byte("delete-key"))
	if err != nil {
		t.Fatalf("Unexpected error during second Delete: %v", err)
	}
	if existed {
		t.Errorf("Expected second Delete to report a missing key")
	}

	if _, err = database.Delete("nonexistent-bucket", []byte("key")); err != nil {
		t.Errorf("Delete in a nonexistent bucket should not fail: %v", err)
	}
}

func testHas(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureHas)

	mustSet(t, database, "test", "has-key", []byte("value"))

	has, err := database.Has("test", []byte("has-key"))
	if err != nil || !has {
		t.Errorf("Expected Has to return true, got %v (err %v)", has, err)
	}

	has, err = database.Has("test", []byte("other-key"))
	if err != nil || has {
		t.Errorf("Expected Has to return false, got %v (err %v)", has, err)
	}
}

func testBucketIsolation(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet|db.FeatureForEach)

	mustSet(t, database, "a", "key", []byte("value-a"))
	mustSet(t, database, "b", "key", []byte("value-b"))

	va, _ := mustGet(t, database, "a", "key")
	vb, _ := mustGet(t, database, "b", "key")
	if string(va) != "value-a" || string(vb) != "value-b" {
		t.Errorf("Buckets are not isolated: a=%s b=%s", va, vb)
	}

	names, err := database.Buckets()
	if err != nil {
		t.Fatalf("Unexpected error during Buckets: %v", err)
	}
	sort.Strings(names)
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("Expected buckets [a b], got %v", names)
	}
}

func testUpdate(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureUpdate|db.FeatureGet)

	// create
	err := database.Update("test", []byte("counter"), func(old []byte, exists bool) ([]byte, bool, error) {
		if exists {
			t.Errorf("Expected entry to be absent before the first update")
		}
		return []byte{1}, false, nil
	})
	if err != nil {
		t.Fatalf("Unexpected error during Update: %v", err)
	}

	// modify
	err = database.Update("test", []byte("counter"), func(old []byte, exists bool) ([]byte, bool, error) {
		if !exists || len(old) != 1 {
			t.Errorf("Expected existing entry, got exists=%v old=%v", exists, old)
			return old, false, nil
		}
		return []byte{old[0] + 1}, false, nil
	})
	if err != nil {
		t.Fatalf("Unexpected error during Update: %v", err)
	}
	value, _ := mustGet(t, database, "test", "counter")
	if !bytes.Equal(value, []byte{2}) {
		t.Errorf("Expected value [2], got %v", value)
	}

	// failed update leaves the entry unchanged
	boom := errors.New("boom")
	err = database.Update("test", []byte("counter"), func(old []byte, exists bool) ([]byte, bool, error) {
		return []byte{42}, false, boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("Expected the update error to be returned, got %v", err)
	}
	value, _ = mustGet(t, database, "test", "counter")
	if !bytes.Equal(value, []byte{2}) {
		t.Errorf("Expected value [2] after failed update, got %v", value)
	}

	// remove
	err = database.Update("test", []byte("counter"), func(old []byte, exists bool) ([]byte, bool, error) {
		return nil, true, nil
	})
	if err != nil {
		t.Fatalf("Unexpected error during Update: %v", err)
	}
	if _, exists := mustGet(t, database, "test", "counter"); exists {
		t.Errorf("Expected entry to be removed by Update")
	}

	// removing an absent entry is a no-op
	err = database.Update("test", []byte("absent"), func(old []byte, exists bool) ([]byte, bool, error) {
		return nil, true, nil
	})
	if err != nil {
		t.Errorf("Unexpected error removing an absent entry: %v", err)
	}
}

func testConcurrentUpdate(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureUpdate|db.FeatureGet)

	numWorkers := 8
	incrementsPerWorker := 200

	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for w := 0; w < numWorkers; w++ {
		go func() {
			defer wg.Done()
			for i := 0; i < incrementsPerWorker; i++ {
				err := database.Update("test", []byte("counter"), func(old []byte, exists bool) ([]byte, bool, error) {
					var n int
					if exists {
						_, _ = fmt.Sscanf(string(old), "%d", &n)
					}
					return []byte(fmt.Sprintf("%d", n+1)), false, nil
				})
				if err != nil {
					t.Errorf("Unexpected error during Update: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	value, _ := mustGet(t, database, "test", "counter")
	expected := fmt.Sprintf("%d", numWorkers*incrementsPerWorker)
	if string(value) != expected {
		t.Errorf("Lost updates: expected %s, got %s", expected, value)
	}
}

func testForEach(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureForEach)

	numEntries := 100
	for i := 0; i < numEntries; i++ {
		mustSet(t, database, "scan", fmt.Sprintf("key-%d", i), []byte(fmt.Sprintf("value-%d", i)))
	}
	mustSet(t, database, "other", "key-0", []byte("other"))

	seen := make(map[string]string)
	err := database.ForEach("scan", func(key, value []byte) error {
		seen[string(key)] = string(value)
		return nil
	})
	if err != nil {
		t.Fatalf("Unexpected error during ForEach: %v", err)
	}
	if len(seen) != numEntries {
		t.Errorf("Expected %d entries, got %d", numEntries, len(seen))
	}
	for i := 0; i < numEntries; i++ {
		if seen[fmt.Sprintf("key-%d", i)] != fmt.Sprintf("value-%d", i) {
			t.Errorf("Unexpected value for key-%d: %s", i, seen[fmt.Sprintf("key-%d", i)])
		}
	}

	stop := errors.New("stop")
	count := 0
	err = database.ForEach("scan", func(key, value []byte) error {
		count++
		if count == 10 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) || count != 10 {
		t.Errorf("Expected iteration to stop after 10 entries with the callback error, got %d (err %v)", count, err)
	}

	err = database.ForEach("nonexistent-bucket", func(key, value []byte) error {
		t.Errorf("Unexpected entry in nonexistent bucket")
		return nil
	})
	if err != nil {
		t.Errorf("ForEach over a nonexistent bucket should not fail: %v", err)
	}
}

func testSaveLoad(t *testing.T, factory DBFactory) {
	database := factory()
	database2 := factory()

	// close the databases after the test
	defer database.Close()
	defer database2.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet|db.FeatureSave|db.FeatureLoad)

	numEntries := 1000
	originalKeys := make([]string, numEntries)
	originalValues := make([][]byte, numEntries)

	for i := 0; i < numEntries; i++ {
		key := fmt.Sprintf("save-load-test-key-%d", i)
		value := []byte(fmt.Sprintf("save-load-test-value-%d", i))
		originalKeys[i] = key
		originalValues[i] = value

		mustSet(t, database, fmt.Sprintf("bucket-%d", i%3), key, value)
	}

	// content of the target is replaced by the snapshot
	mustSet(t, database2, "stale", "key", []byte("value"))

	var buf bytes.Buffer
	if err := database.Save(&buf); err != nil {
		t.Fatalf("Unexpected error during Save: %v", err)
	}

	if err := database2.Load(&buf); err != nil {
		t.Fatalf("Unexpected error during Load: %v", err)
	}

	for i := 0; i < numEntries; i++ {
		key := originalKeys[i]
		expectedValue := originalValues[i]

		actualValue, exists := mustGet(t, database2, fmt.Sprintf("bucket-%d", i%3), key)
		if !exists {
			t.Errorf("Key %s not found after Load", key)
			continue
		}

		if !bytes.Equal(actualValue, expectedValue) {
			t.Errorf("Value mismatch for key %s: expected %s, got %s", key, expectedValue, actualValue)
		}
	}

	if _, exists := mustGet(t, database2, "stale", "key"); exists {
		t.Errorf("Expected Load to replace the previous content")
	}

	for i := 0; i < numEntries; i++ {
		actualValue, exists := mustGet(t, database, fmt.Sprintf("bucket-%d", i%3), originalKeys[i])
		if !exists || !bytes.Equal(actualValue, originalValues[i]) {
			t.Errorf("Value mismatch in original database for key %s", originalKeys[i])
		}
	}
}

func testClose(t *testing.T, database db.KVDB) {
	if err := database.Close(); err != nil {
		t.Fatalf("Unexpected error during Close: %v", err)
	}
	if err := database.Close(); err != nil {
		t.Errorf("Closing twice should be a no-op, got %v", err)
	}
	if err := database.Set("test", []byte("key"), []byte("value")); !errors.Is(err, db.ErrClosed) {
		t.Errorf("Expected ErrClosed after Close, got %v", err)
	}
}

func testRealisticUsage(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet|db.FeatureDelete)

	type operation struct {
		op    string
		key   string
		value []byte
	}

	numOperations := 5_000
	operations := make([]operation, numOperations)

	for i := 0; i < numOperations; i++ {
		var op string
		switch i % 10 {
		case 0, 1, 2, 3, 4, 5, 6:
			op = "set"
		case 7, 8:
			op = "get"
		case 9:
			op = "delete"
		}

		var key string
		if i%5 == 0 {
			key = fmt.Sprintf("hot-key-%d", i%50)
		} else {
			key = fmt.Sprintf("key-%d", i)
		}

		var value []byte
		if op == "set" {
			valueSize := 64
			if i%10 == 0 {
				valueSize = 1024
			}
			value = make([]byte, valueSize)
			for j := 0; j < valueSize; j++ {
				value[j] = byte((i + j) % 256)
			}
		}

		operations[i] = operation{op, key, value}
	}

	numWorkers := 8
	var wg sync.WaitGroup
	wg.Add(numWorkers)

	opsPerWorker := numOperations / numWorkers

	for w := 0; w < numWorkers; w++ {
		go func(workerId int) {
			defer wg.Done()

			start := workerId * opsPerWorker
			end := start + opsPerWorker

			for i := start; i < end; i++ {
				op := operations[i]
				var err error
				switch op.op {
				case "set":
					err = database.Set("realistic", []byte(op.key), op.value)
				case "get":
					_, _, err = database.Get("realistic", []byte(op.key))
				case "delete":
					_, err = database.Delete("realistic", []byte(op.key))
				}
				if err != nil {
					t.Errorf("Unexpected error during %s of %s: %v", op.op, op.key, err)
				}
			}
		}(w)
	}

	wg.Wait()

	// every remaining entry must be readable with a value that was written for it
	err := database.ForEach("realistic", func(key, value []byte) error {
		if len(value) != 64 && len(value) != 1024 {
			return fmt.Errorf("unexpected value size %d for key %s", len(value), key)
		}
		return nil
	})
	if err != nil && database.SupportsFeature(db.FeatureForEach) {
		t.Errorf("Consistency error: %v", err)
	}
}

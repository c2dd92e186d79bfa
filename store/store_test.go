package store_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coilhq/ilp-plugin-bilateral/store"
)

// newStores mirrors go-ethereum's database_test.go pattern of running
// the same contract test across every concrete Store implementation.
func newStores(t *testing.T) map[string]store.Store {
	t.Helper()
	ldb, err := store.OpenLevelDBStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = ldb.Close() })

	return map[string]store.Store{
		"MemStore":     store.NewMemStore(),
		"LevelDBStore": ldb,
	}
}

func TestStore_PutGet(t *testing.T) {
	for name, s := range newStores(t) {
		s := s
		t.Run(name, func(t *testing.T) {
			_, ok, err := s.Get("missing")
			require.NoError(t, err)
			require.False(t, ok)

			require.NoError(t, s.Put("k", []byte("v1")))
			v, ok, err := s.Get("k")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, "v1", string(v))

			require.NoError(t, s.Put("k", []byte("v2")))
			v, ok, err = s.Get("k")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, "v2", string(v))
		})
	}
}

func TestStore_CompareAndSwap(t *testing.T) {
	for name, s := range newStores(t) {
		s := s
		t.Run(name, func(t *testing.T) {
			// create-if-absent
			swapped, err := s.CompareAndSwap("id1", nil, []byte("first"))
			require.NoError(t, err)
			require.True(t, swapped)

			// stale old value fails
			swapped, err = s.CompareAndSwap("id1", []byte("stale"), []byte("second"))
			require.NoError(t, err)
			require.False(t, swapped)

			// correct old value succeeds
			swapped, err = s.CompareAndSwap("id1", []byte("first"), []byte("second"))
			require.NoError(t, err)
			require.True(t, swapped)

			v, ok, err := s.Get("id1")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, "second", string(v))

			// create-if-absent fails when key already exists
			swapped, err = s.CompareAndSwap("id1", nil, []byte("third"))
			require.NoError(t, err)
			require.False(t, swapped)
		})
	}
}

func TestStore_CompareAndSwapReadModifyWriteLoop(t *testing.T) {
	for name, s := range newStores(t) {
		s := s
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Put("counter", []byte("0")))

			const attempts = 50
			successes := 0
			for i := 0; i < attempts; i++ {
				cur, _, err := s.Get("counter")
				require.NoError(t, err)
				swapped, err := s.CompareAndSwap("counter", cur, []byte("1"))
				require.NoError(t, err)
				if swapped {
					successes++
				}
			}
			require.GreaterOrEqual(t, successes, 1)
		})
	}
}

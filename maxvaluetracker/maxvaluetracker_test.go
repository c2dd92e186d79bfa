package maxvaluetracker_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coilhq/ilp-plugin-bilateral/maxvaluetracker"
	"github.com/coilhq/ilp-plugin-bilateral/store"
)

func TestEmptyTrackerIsZero(t *testing.T) {
	tr := maxvaluetracker.New()
	require.Equal(t, "0", tr.GetMax().Value)
}

func TestSetIfMaxMonotone(t *testing.T) {
	// claims 30, 50, 40, 70 arrive out of order -> final max 70,
	// intermediate observed maxes non-decreasing.
	tr := maxvaluetracker.New()
	claims := []string{"30", "50", "40", "70"}
	observed := make([]string, 0, len(claims))

	for _, v := range claims {
		_, err := tr.SetIfMax(maxvaluetracker.Entry{Value: v})
		require.NoError(t, err)
		observed = append(observed, tr.GetMax().Value)
	}

	require.Equal(t, "70", tr.GetMax().Value)
	require.Equal(t, []string{"30", "50", "50", "70"}, observed)
}

func TestSetIfMaxReturnsPreviousOrIncoming(t *testing.T) {
	tr := maxvaluetracker.New()

	prev, err := tr.SetIfMax(maxvaluetracker.Entry{Value: "50"})
	require.NoError(t, err)
	require.Equal(t, "0", prev.Value) // previous max (the empty entry)

	// lower value: tracker unchanged, the incoming entry itself is returned
	same, err := tr.SetIfMax(maxvaluetracker.Entry{Value: "10"})
	require.NoError(t, err)
	require.Equal(t, "10", same.Value)
	require.Equal(t, "50", tr.GetMax().Value)
}

func TestSetIfMaxConcurrentInterleavingsAreSerializable(t *testing.T) {
	tr := maxvaluetracker.New()
	values := []string{"10", "20", "30", "40", "50", "60", "70", "80"}

	var wg sync.WaitGroup
	for _, v := range values {
		v := v
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tr.SetIfMax(maxvaluetracker.Entry{Value: v})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, "80", tr.GetMax().Value)
}

func TestLoadRestoresPersistedValue(t *testing.T) {
	s := store.NewMemStore()
	tr, err := maxvaluetracker.Load(s, "best_claim")
	require.NoError(t, err)

	_, err = tr.SetIfMax(maxvaluetracker.Entry{Value: "42"})
	require.NoError(t, err)

	reloaded, err := maxvaluetracker.Load(s, "best_claim")
	require.NoError(t, err)
	require.Equal(t, "42", reloaded.GetMax().Value)
}

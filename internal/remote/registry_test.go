package remote

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_NamesAreSequentialAndPrefixed(t *testing.T) {
	r := NewRegistry("vimpilot")

	first, second := r.Next(), r.Next()
	require.True(t, strings.HasPrefix(first, r.Prefix()))
	require.Equal(t, r.Prefix()+"1", first)
	require.Equal(t, r.Prefix()+"2", second)
	require.Equal(t, strings.ToUpper(first), first)
}

func TestRegistry_DistinctRegistriesDoNotCollide(t *testing.T) {
	require.NotEqual(t, NewRegistry("X").Next(), NewRegistry("X").Next())
}

func TestRegistry_ConcurrentNext(t *testing.T) {
	r := NewRegistry("T")
	const n = 200

	var mu sync.Mutex
	seen := make(map[string]bool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := r.Next()
			mu.Lock()
			seen[name] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Len(t, seen, n)
}

package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequentialIDGenerator_Format(t *testing.T) {
	gen := NewSequentialIDGenerator("")

	assert.Equal(t, "dispatch-001", gen.Generate())
	assert.Equal(t, "dispatch-002", gen.Generate())
	assert.Equal(t, "dispatch-003", gen.Generate())
}

func TestSequentialIDGenerator_CustomPrefix(t *testing.T) {
	gen := NewSequentialIDGenerator("run")
	assert.Equal(t, "run-001", gen.Generate())
}

func TestSequentialIDGenerator_WidensPast999(t *testing.T) {
	gen := NewSequentialIDGenerator("d")
	var last string
	for i := 0; i < 1000; i++ {
		last = gen.Generate()
	}
	assert.Equal(t, "d-1000", last)
}

func TestSequentialIDGenerator_Reset(t *testing.T) {
	gen := NewSequentialIDGenerator("")
	gen.Generate()
	gen.Generate()

	gen.Reset()
	assert.Equal(t, "dispatch-001", gen.Generate())
}

func TestSequentialIDGenerator_ConcurrentUnique(t *testing.T) {
	gen := NewSequentialIDGenerator("")
	const workers = 20
	const perWorker = 50

	var (
		mu   sync.Mutex
		seen = make(map[string]bool)
		wg   sync.WaitGroup
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				id := gen.Generate()
				mu.Lock()
				require.False(t, seen[id], "duplicate id %s", id)
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
}

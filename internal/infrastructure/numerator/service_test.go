package numerator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	corenumerator "backoffice/internal/core/numerator"
)

func TestMemory_SequencesPerKey(t *testing.T) {
	ctx := context.Background()
	gen := NewMemory()
	cfg := corenumerator.DefaultConfig("TRF")

	jan := time.Date(2026, time.January, 5, 0, 0, 0, 0, time.UTC)
	next := time.Date(2027, time.January, 5, 0, 0, 0, 0, time.UTC)

	n1, err := gen.Next(ctx, cfg, jan)
	require.NoError(t, err)
	n2, err := gen.Next(ctx, cfg, jan)
	require.NoError(t, err)
	n3, err := gen.Next(ctx, cfg, next)
	require.NoError(t, err)
	other, err := gen.Next(ctx, corenumerator.DefaultConfig("CNT"), jan)
	require.NoError(t, err)

	assert.Equal(t, "TRF-2026-00001", n1)
	assert.Equal(t, "TRF-2026-00002", n2)
	assert.Equal(t, "TRF-2027-00001", n3)
	assert.Equal(t, "CNT-2026-00001", other)
}

func TestMemory_ConcurrentNumbersAreUnique(t *testing.T) {
	ctx := context.Background()
	gen := NewMemory()
	cfg := corenumerator.DefaultConfig("CNT")
	period := time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC)

	const workers = 50
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]bool, workers)
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := gen.Next(ctx, cfg, period)
			assert.NoError(t, err)
			mu.Lock()
			seen[n] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers)
	assert.True(t, seen["CNT-2026-00050"])
}

func TestMemory_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMemory().Next(ctx, corenumerator.DefaultConfig("CNT"), time.Now())
	assert.ErrorIs(t, err, context.Canceled)
}

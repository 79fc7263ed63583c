package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/document-splitter/pkg/logger"
)

func TestNewPoolRejectsZero(t *testing.T) {
	_, err := NewPool(0, logger.NewNop())
	require.ErrorIs(t, err, ErrInvalidSize)

	_, err = NewPool(-3, logger.NewNop())
	require.ErrorIs(t, err, ErrInvalidSize)
}

func TestPoolRespectsBound(t *testing.T) {
	const size = 3
	p, err := NewPool(size, logger.NewNop())
	require.NoError(t, err)
	assert.Equal(t, size, p.Size())

	var running, peak atomic.Int32
	for i := 0; i < 12; i++ {
		err := p.Go(context.Background(), fmt.Sprintf("task-%d", i), func(ctx context.Context) error {
			n := running.Add(1)
			for {
				cur := peak.Load()
				if n <= cur || peak.CompareAndSwap(cur, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
			return nil
		})
		require.NoError(t, err)
	}
	require.NoError(t, p.Wait())

	assert.LessOrEqual(t, int(peak.Load()), size)
	assert.LessOrEqual(t, p.MaxInFlight(), size)
	assert.Equal(t, 0, p.InFlight())
}

func TestPoolCollectsErrorsAndPanics(t *testing.T) {
	log := logger.NewTestLogger()
	p, err := NewPool(2, log)
	require.NoError(t, err)

	boom := errors.New("boom")
	var ran atomic.Int32

	require.NoError(t, p.Go(context.Background(), "fails", func(context.Context) error {
		ran.Add(1)
		return boom
	}))
	require.NoError(t, p.Go(context.Background(), "panics", func(context.Context) error {
		ran.Add(1)
		panic("corrupt page")
	}))
	require.NoError(t, p.Go(context.Background(), "ok", func(context.Context) error {
		ran.Add(1)
		return nil
	}))

	err = p.Wait()
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "panicked")
	assert.Equal(t, int32(3), ran.Load())
	assert.True(t, log.Contains("ERROR", "panicked"))

	var keys []string
	for _, e := range log.GetEntries() {
		if e.Level == "ERROR" {
			for _, f := range e.Fields {
				keys = append(keys, f.Key)
			}
		}
	}
	assert.Contains(t, keys, "stacktrace")
}

func TestPoolGoHonoursCancelledContext(t *testing.T) {
	p, err := NewPool(1, logger.NewNop())
	require.NoError(t, err)

	release := make(chan struct{})
	require.NoError(t, p.Go(context.Background(), "hold", func(context.Context) error {
		<-release
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = p.Go(ctx, "blocked", func(context.Context) error { return nil })
	require.ErrorIs(t, err, context.Canceled)

	close(release)
	require.NoError(t, p.Close())
	require.ErrorIs(t, p.Go(context.Background(), "late", func(context.Context) error { return nil }), ErrPoolClosed)
}

package folders

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDaemon_PreloadOnStart(t *testing.T) {
	m := NewMemoryLister("root", sampleTree())
	d := NewDaemon(testConfig(), m, Options{
		Cache:          DefaultCacheOptions(),
		Coalesce:       true,
		PreloadOnStart: true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return d.Cache().Stats().ChildrenCount == 9
	}, 2*time.Second, 10*time.Millisecond)

	m.ResetCalls()
	res := d.Resolve(context.Background(), "Dian Putri", "", nil)
	assert.Equal(t, "b1", res.FolderID)
	assert.Equal(t, 0, m.CallCount())

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("daemon did not stop")
	}
}

func TestDaemon_InvalidatePublishes(t *testing.T) {
	d := NewDaemon(testConfig(), NewMemoryLister("root", sampleTree()), Options{})
	ch := d.Events().Subscribe()
	defer d.Events().Unsubscribe(ch)

	require.True(t, d.Resolve(context.Background(), "Alice Tan", "", nil).Found)
	require.Equal(t, 1, d.Cache().Stats().ResolvedCount)

	d.Invalidate()

	assert.Equal(t, "empty", d.Cache().Stats().Status)
	select {
	case ev := <-ch:
		assert.Equal(t, EventCacheCleared, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("no cache.cleared event")
	}
}

func TestDaemon_SearchTimeoutApplied(t *testing.T) {
	d := NewDaemon(testConfig(), slowLister{}, Options{SearchTimeout: 20 * time.Millisecond})

	res := d.Resolve(context.Background(), "Alice Tan", "", nil)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
}

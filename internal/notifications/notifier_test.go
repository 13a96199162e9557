package notifications

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"lfgkeeper/internal/cache"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifier_NilClientIsNoop(t *testing.T) {
	n := NewNotifier(nil)
	assert.NoError(t, n.PublishArtifactDeleted(context.Background(), DeletionEvent{ArtifactID: "m"}))
	assert.NoError(t, n.OnArtifactDeleted(context.Background(), func(context.Context, DeletionEvent) {}))
}

func TestParseDeletionEvent(t *testing.T) {
	t.Parallel()

	ev, err := ParseDeletionEvent(`{"artifact_id":"m-1","destination":"lfg"}`)
	require.NoError(t, err)
	assert.Equal(t, DeletionEvent{ArtifactID: "m-1", Destination: "lfg"}, ev)

	ev, err = ParseDeletionEvent(" m-2 ")
	require.NoError(t, err)
	assert.Equal(t, "m-2", ev.ArtifactID)

	_, err = ParseDeletionEvent(`{"destination":"lfg"}`)
	assert.Error(t, err)
	_, err = ParseDeletionEvent(`{not json`)
	assert.Error(t, err)
	_, err = ParseDeletionEvent("")
	assert.Error(t, err)
}

func TestNotifier_DeliversAndStopsOnCancel(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	n := NewNotifier(rdb)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan DeletionEvent, 4)
	require.NoError(t, n.OnArtifactDeleted(ctx, func(_ context.Context, ev DeletionEvent) {
		if ev.ArtifactID == "boom" {
			panic("handler failure")
		}
		got <- ev
	}))

	// A panicking handler must not kill the subscriber.
	require.NoError(t, rdb.Publish(context.Background(), cache.ArtifactDeletedChan, "boom").Err())
	require.NoError(t, rdb.Publish(context.Background(), cache.ArtifactDeletedChan, "not-json{").Err())
	require.NoError(t, n.PublishArtifactDeleted(context.Background(), DeletionEvent{ArtifactID: "m-1"}))

	select {
	case ev := <-got:
		assert.Equal(t, "not-json{", ev.ArtifactID)
	case <-time.After(time.Second):
		t.Fatal("expected first delivery")
	}
	select {
	case ev := <-got:
		assert.Equal(t, "m-1", ev.ArtifactID)
	case <-time.After(time.Second):
		t.Fatal("expected second delivery")
	}

	cancel()
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, n.PublishArtifactDeleted(context.Background(), DeletionEvent{ArtifactID: "after-cancel"}))
	assert.Never(t, func() bool {
		select {
		case <-got:
			return true
		default:
			return false
		}
	}, 200*time.Millisecond, 20*time.Millisecond)
}

func TestBus_DeliversToLiveHandlers(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())

	var calls int32
	require.NoError(t, bus.OnArtifactDeleted(ctx, func(context.Context, DeletionEvent) {
		atomic.AddInt32(&calls, 1)
	}))
	require.NoError(t, bus.OnArtifactDeleted(context.Background(), func(context.Context, DeletionEvent) {
		panic("ignored")
	}))

	require.NoError(t, bus.PublishArtifactDeleted(context.Background(), DeletionEvent{ArtifactID: "m"}))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	cancel()
	require.NoError(t, bus.PublishArtifactDeleted(context.Background(), DeletionEvent{ArtifactID: "m"}))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

package eventbus

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestJetStreamBus требует NATS с JetStream (REPLAY_TEST_NATS=nats://127.0.0.1:4222)
func TestJetStreamBus(t *testing.T) {
	url := os.Getenv("REPLAY_TEST_NATS")
	if url == "" {
		t.Skip("REPLAY_TEST_NATS не задан")
	}

	stream := fmt.Sprintf("REPLAY_TEST_%d", time.Now().UnixNano())
	bus, err := NewJetStreamBus(url, stream, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = bus.js.DeleteStream(stream)
		_ = bus.Close()
	})

	got := make(chan *Envelope, 4)
	sub, err := bus.Subscribe(context.Background(), Filter{Types: []string{TypePlaybackSeek}}, func(ctx context.Context, ev *Envelope) {
		got <- ev
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, bus.Publish(ctx, mustEnvelope(t, TypePlayerClick, PriorityCommand)))
	require.NoError(t, bus.Publish(ctx, mustEnvelope(t, TypePlaybackSeek, PriorityCommand)))

	select {
	case ev := <-got:
		assert.Equal(t, TypePlaybackSeek, ev.EventType)
		assert.Equal(t, "s1", ev.CorrelationID)

		var p PlaybackPayload
		require.NoError(t, ev.Decode(&p))
		assert.Equal(t, 640, p.Tick)
	case <-time.After(5 * time.Second):
		t.Fatal("событие seek не доставлено")
	}

	select {
	case ev := <-got:
		t.Fatalf("фильтр пропустил %s", ev.EventType)
	case <-time.After(200 * time.Millisecond):
	}

	assert.Equal(t, uint64(2), bus.Metrics().Published)
	assert.Equal(t, "replay.events.playback_seek", bus.subject(TypePlaybackSeek))
}

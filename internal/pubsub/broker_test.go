package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBroker_Subscribe(t *testing.T) {
	broker := NewBroker[string]()
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := broker.Subscribe(ctx)
	broker.Publish(StartedEvent, "VIMPILOT_1")

	select {
	case event := <-ch:
		require.Equal(t, "VIMPILOT_1", event.Payload)
		require.Equal(t, StartedEvent, event.Type)
		require.False(t, event.Timestamp.IsZero())
	case <-time.After(time.Second):
		require.Fail(t, "timeout waiting for event")
	}
}

func TestBroker_MultipleSubscribers(t *testing.T) {
	broker := NewBroker[int]()
	defer broker.Close()

	ctx := context.Background()
	ch1 := broker.Subscribe(ctx)
	ch2 := broker.Subscribe(ctx)

	require.Equal(t, 2, broker.SubscriberCount())

	broker.Publish(StoppedEvent, 42)

	for i, ch := range []<-chan Event[int]{ch1, ch2} {
		select {
		case event := <-ch:
			require.Equal(t, 42, event.Payload, "subscriber %d", i)
		case <-time.After(time.Second):
			require.Fail(t, "timeout waiting for event", "subscriber %d", i)
		}
	}
}

func TestBroker_ContextCancellation(t *testing.T) {
	broker := NewBroker[string]()
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch := broker.Subscribe(ctx)
	require.Equal(t, 1, broker.SubscriberCount())

	cancel()
	require.Eventually(t, func() bool { return broker.SubscriberCount() == 0 },
		time.Second, 5*time.Millisecond)

	_, ok := <-ch
	require.False(t, ok, "channel should be closed")
}

func TestBroker_PublishNeverBlocks(t *testing.T) {
	broker := NewBrokerWithBuffer[int](1)
	defer broker.Close()

	ch := broker.Subscribe(context.Background())
	broker.Publish(LogEvent, 1)

	done := make(chan struct{})
	go func() {
		broker.Publish(LogEvent, 2)
		broker.Publish(LogEvent, 3)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		require.Fail(t, "Publish blocked")
	}

	event := <-ch
	require.Equal(t, 1, event.Payload)
	require.Equal(t, uint64(2), broker.Dropped(), "events beyond the buffer are counted as dropped")
}

func TestBroker_CloseIsIdempotent(t *testing.T) {
	broker := NewBroker[string]()
	ch := broker.Subscribe(context.Background())

	broker.Close()
	broker.Close()

	_, ok := <-ch
	require.False(t, ok)
	require.Equal(t, 0, broker.SubscriberCount())

	late := broker.Subscribe(context.Background())
	_, ok = <-late
	require.False(t, ok, "subscription after close should be closed immediately")

	broker.Publish(LogEvent, "ignored")
}

func TestForward_StopsWhenChannelCloses(t *testing.T) {
	broker := NewBroker[string]()
	ch := broker.Subscribe(context.Background())

	broker.Publish(LogEvent, "a")
	broker.Publish(LogEvent, "b")
	broker.Close()

	var got []string
	Forward(context.Background(), ch, func(e Event[string]) {
		got = append(got, e.Payload)
	})
	require.Equal(t, []string{"a", "b"}, got)
}

func TestForward_StopsWhenContextEnds(t *testing.T) {
	broker := NewBroker[string]()
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch := broker.Subscribe(context.Background())
	cancel()

	Forward(ctx, ch, func(Event[string]) {
		require.Fail(t, "no events expected")
	})
}

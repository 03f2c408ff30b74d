package state

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	gochannel "github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestStore_SetAndSnapshot(t *testing.T) {
	s := NewStore([]string{"search", "api"}, nil)

	st, ok := s.Get("search")
	require.True(t, ok)
	require.Equal(t, StatusNotStarted, st)

	require.NoError(t, s.Set("search", StatusStarted, "launched"))
	require.NoError(t, s.Set("search", StatusHealthy, "probe passed"))

	snap := s.Snapshot()
	require.Equal(t, StatusHealthy, snap["search"])
	require.Equal(t, StatusNotStarted, snap["api"])

	_, ok = s.Get("ghost")
	require.False(t, ok)
	require.Error(t, s.Set("ghost", StatusStarted, ""))
}

func TestStore_AwaitWakesOnTransition(t *testing.T) {
	s := NewStore([]string{"search"}, nil)

	done := make(chan error, 1)
	go func() {
		done <- s.Await(context.Background(), func(states map[string]Status) (bool, error) {
			return states["search"] == StatusHealthy, nil
		})
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, s.Set("search", StatusStarted, ""))
	require.NoError(t, s.Set("search", StatusHealthy, ""))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("await did not wake")
	}
}

func TestStore_AwaitPredError(t *testing.T) {
	s := NewStore([]string{"search"}, nil)

	errBoom := errors.New("boom")
	err := s.Await(context.Background(), func(map[string]Status) (bool, error) {
		return false, errBoom
	})
	require.ErrorIs(t, err, errBoom)
}

func TestStore_AwaitContextCancel(t *testing.T) {
	s := NewStore([]string{"search"}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := s.Await(ctx, func(map[string]Status) (bool, error) {
		return false, nil
	})
	require.Error(t, err)
	require.ErrorIs(t, errors.Cause(err), context.DeadlineExceeded)
}

func newTestPubSub() *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            16,
		BlockPublishUntilSubscriberAck: true,
	}, watermill.NopLogger{})
}

func TestStore_PublishesTransitions(t *testing.T) {
	pubsub := newTestPubSub()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msgs, err := pubsub.Subscribe(ctx, EventsTopic)
	require.NoError(t, err)

	s := NewStore([]string{"search"}, pubsub)
	defer s.Close()
	require.NoError(t, s.Set("search", StatusStarted, "launched"))
	// Same-state set is a no-op and must not publish.
	require.NoError(t, s.Set("search", StatusStarted, "again"))
	require.NoError(t, s.Set("search", StatusHealthy, "probe passed"))

	var events []ChangeEvent
	for len(events) < 2 {
		select {
		case msg := <-msgs:
			var ev ChangeEvent
			require.NoError(t, json.Unmarshal(msg.Payload, &ev))
			events = append(events, ev)
			msg.Ack()
		case <-ctx.Done():
			t.Fatal("timed out waiting for events")
		}
	}

	require.Equal(t, StatusNotStarted, events[0].From)
	require.Equal(t, StatusStarted, events[0].To)
	require.Equal(t, "launched", events[0].Reason)
	require.Equal(t, StatusStarted, events[1].From)
	require.Equal(t, StatusHealthy, events[1].To)
}

// Back-to-back transitions across several services must reach subscribers in
// the order the store recorded them; consumers rebuild their view from the
// feed and would otherwise end up on a stale state.
func TestStore_EventOrderUnderRapidTransitions(t *testing.T) {
	pubsub := newTestPubSub()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msgs, err := pubsub.Subscribe(ctx, EventsTopic)
	require.NoError(t, err)

	s := NewStore([]string{"search", "broker", "api"}, pubsub)
	defer s.Close()

	type step struct {
		service string
		to      Status
	}
	steps := []step{
		{"search", StatusStarted},
		{"broker", StatusStarted},
		{"search", StatusHealthy},
		{"api", StatusStarted},
		{"broker", StatusHealthy},
		{"api", StatusUnhealthy},
		{"api", StatusExited},
	}
	for _, st := range steps {
		require.NoError(t, s.Set(st.service, st.to, ""))
	}

	for i := 0; i < len(steps); i++ {
		select {
		case msg := <-msgs:
			var ev ChangeEvent
			require.NoError(t, json.Unmarshal(msg.Payload, &ev))
			msg.Ack()
			require.Equal(t, steps[i].service, ev.Service, "event %d out of order", i)
			require.Equal(t, steps[i].to, ev.To, "event %d out of order", i)
		case <-ctx.Done():
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

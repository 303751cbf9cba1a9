package monitor

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempts/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan []byte) model.AttemptEvent {
	t.Helper()
	select {
	case raw, ok := <-ch:
		require.True(t, ok, "feed closed")
		var ev model.AttemptEvent
		require.NoError(t, json.Unmarshal(raw, &ev))
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
		return model.AttemptEvent{}
	}
}

func exerciseFeed(t *testing.T, feed Feed) {
	ctx := context.Background()
	examID, other := uuid.New(), uuid.New()

	events, cancel, err := feed.Subscribe(ctx, examID)
	require.NoError(t, err)

	attemptID := uuid.New()
	require.NoError(t, feed.Publish(ctx, model.AttemptEvent{Type: model.EventAttemptStarted, ExamID: other, AttemptID: uuid.New()}))
	require.NoError(t, feed.Publish(ctx, model.AttemptEvent{Type: model.EventSubmitted, ExamID: examID, AttemptID: attemptID, StudentID: 9}))

	ev := receive(t, events)
	assert.Equal(t, model.EventSubmitted, ev.Type)
	assert.Equal(t, attemptID, ev.AttemptID)
	assert.Equal(t, 9, ev.StudentID)

	cancel()
	cancel()
	require.Eventually(t, func() bool {
		_, open := <-events
		return !open
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLocalFeed(t *testing.T) {
	exerciseFeed(t, NewLocalFeed(zerolog.New(io.Discard)))
}

func TestLocalFeedClosesWithContext(t *testing.T) {
	feed := NewLocalFeed(zerolog.New(io.Discard))
	ctx, cancel := context.WithCancel(context.Background())
	events, _, err := feed.Subscribe(ctx, uuid.New())
	require.NoError(t, err)

	cancel()
	require.Eventually(t, func() bool {
		_, open := <-events
		return !open
	}, time.Second, 5*time.Millisecond)
	feed.mu.Lock()
	defer feed.mu.Unlock()
	assert.Empty(t, feed.subs)
}

func TestLocalFeedDropsForSlowSubscriber(t *testing.T) {
	feed := NewLocalFeed(zerolog.New(io.Discard))
	examID := uuid.New()
	events, cancel, err := feed.Subscribe(context.Background(), examID)
	require.NoError(t, err)
	defer cancel()

	for i := 0; i < subscriberBuffer+10; i++ {
		require.NoError(t, feed.Publish(context.Background(), model.AttemptEvent{Type: model.EventAnswerSaved, ExamID: examID}))
	}
	assert.Len(t, events, subscriberBuffer)
}

func TestRedisFeed(t *testing.T) {
	url := os.Getenv("EXSTEM_TEST_REDIS_URL")
	if url == "" {
		t.Skip("EXSTEM_TEST_REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opt)
	t.Cleanup(func() { _ = rdb.Close() })

	exerciseFeed(t, NewRedisFeed(rdb, zerolog.New(io.Discard)))
}

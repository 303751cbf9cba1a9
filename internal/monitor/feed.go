// Package monitor carries attempt lifecycle events to instructors watching an exam.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempts/internal/config"
	"github.com/stemsi/exstem-attempts/internal/model"
	"github.com/stemsi/exstem-attempts/internal/service"
)

// subscriberBuffer bounds how far a slow watcher may fall behind before events are dropped.
const subscriberBuffer = 64

// Feed publishes attempt events and lets watchers follow a single exam.
type Feed interface {
	service.EventPublisher
	// Subscribe returns raw JSON events for examID until cancel is called or ctx ends.
	Subscribe(ctx context.Context, examID uuid.UUID) (events <-chan []byte, cancel func(), err error)
}

// ─── Redis ───────────────────────────────────────────────────────────

// RedisFeed fans events out through Redis Pub/Sub so every server instance sees them.
type RedisFeed struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewRedisFeed creates a Feed backed by Redis Pub/Sub.
func NewRedisFeed(rdb *redis.Client, log zerolog.Logger) *RedisFeed {
	return &RedisFeed{rdb: rdb, log: log.With().Str("component", "monitor_feed").Logger()}
}

func (f *RedisFeed) Publish(ctx context.Context, ev model.AttemptEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	channel := config.CacheKey.ExamMonitorChannel(ev.ExamID.String())
	if err := f.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

func (f *RedisFeed) Subscribe(ctx context.Context, examID uuid.UUID) (<-chan []byte, func(), error) {
	channel := config.CacheKey.ExamMonitorChannel(examID.String())
	pubsub := f.rdb.Subscribe(ctx, channel)
	// Wait for the subscription to be confirmed so no event published afterwards is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, subscriberBuffer)
	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			pubsub.Close()
		})
	}

	go func() {
		defer close(out)
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				cancel()
				return
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				default:
					f.log.Warn().Str("exam_id", examID.String()).Msg("Monitor subscriber lagging, event dropped")
				}
			}
		}
	}()

	return out, cancel, nil
}

// ─── in-process ──────────────────────────────────────────────────────

// LocalFeed is a single-process Feed used when Redis is not configured.
type LocalFeed struct {
	mu   sync.Mutex
	subs map[uuid.UUID]map[chan []byte]struct{}
	log  zerolog.Logger
}

// NewLocalFeed creates an in-process Feed.
func NewLocalFeed(log zerolog.Logger) *LocalFeed {
	return &LocalFeed{
		subs: make(map[uuid.UUID]map[chan []byte]struct{}),
		log:  log.With().Str("component", "monitor_feed").Logger(),
	}
}

func (f *LocalFeed) Publish(_ context.Context, ev model.AttemptEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs[ev.ExamID] {
		select {
		case ch <- payload:
		default:
			f.log.Warn().Str("exam_id", ev.ExamID.String()).Msg("Monitor subscriber lagging, event dropped")
		}
	}
	return nil
}

func (f *LocalFeed) Subscribe(ctx context.Context, examID uuid.UUID) (<-chan []byte, func(), error) {
	ch := make(chan []byte, subscriberBuffer)

	f.mu.Lock()
	if f.subs[examID] == nil {
		f.subs[examID] = make(map[chan []byte]struct{})
	}
	f.subs[examID][ch] = struct{}{}
	f.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs[examID], ch)
			if len(f.subs[examID]) == 0 {
				delete(f.subs, examID)
			}
			f.mu.Unlock()
			close(ch)
		})
	}
	context.AfterFunc(ctx, cancel)

	return ch, cancel, nil
}

var (
	_ Feed = (*RedisFeed)(nil)
	_ Feed = (*LocalFeed)(nil)
)

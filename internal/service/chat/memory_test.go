package chat_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/zhouzirui/freibot/backend/internal/model/chat"
	chat "github.com/zhouzirui/freibot/backend/internal/service/chat"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryStoreUnknownSessionIsEmpty(t *testing.T) {
	store := chat.NewMemoryStore()
	history, err := store.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, history)

	n, err := store.Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "reads must not create sessions")
}

func TestMemoryStoreAppendReplaceDelete(t *testing.T) {
	ctx := context.Background()
	store := chat.NewMemoryStore()

	require.NoError(t, store.Append(ctx, "s1", model.UserMessage("Frage"), model.AssistantMessage("Antwort")))
	history, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, history, 2)

	history[0].Content = "mutated"
	again, _ := store.Get(ctx, "s1")
	assert.Equal(t, "Frage", again[0].Content, "Get must return a copy")

	require.NoError(t, store.Replace(ctx, "s1", []model.Message{model.UserMessage("neu")}))
	history, _ = store.Get(ctx, "s1")
	assert.Equal(t, []model.Message{model.UserMessage("neu")}, history)

	require.NoError(t, store.Delete(ctx, "s1"))
	history, _ = store.Get(ctx, "s1")
	assert.Empty(t, history)
}

func TestMemoryStoreRequiresSessionID(t *testing.T) {
	store := chat.NewMemoryStore()
	_, err := store.Get(context.Background(), "")
	assert.ErrorIs(t, err, chat.ErrSessionIDRequired)
	assert.ErrorIs(t, store.Append(context.Background(), ""), chat.ErrSessionIDRequired)
}

func TestMemoryStoreConcurrentUpdatesAreNotLost(t *testing.T) {
	ctx := context.Background()
	store := chat.NewMemoryStore()

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := store.Update(ctx, "shared", func(h []model.Message) []model.Message {
				return append(h, model.UserMessage(fmt.Sprintf("q%d", i)), model.AssistantMessage("a"))
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	history, err := store.Get(ctx, "shared")
	require.NoError(t, err)
	assert.Len(t, history, workers*2)
}

func TestMemoryStoreTTLExpiry(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := chat.NewMemoryStore(chat.WithTTL(time.Hour), chat.WithClock(clock.Now))

	require.NoError(t, store.Append(ctx, "old", model.UserMessage("x")))
	clock.Advance(30 * time.Minute)
	require.NoError(t, store.Append(ctx, "fresh", model.UserMessage("y")))
	clock.Advance(45 * time.Minute)

	assert.Equal(t, 1, store.CleanupExpired())
	n, _ := store.Len(ctx)
	assert.Equal(t, 1, n)

	clock.Advance(2 * time.Hour)
	history, err := store.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.Empty(t, history, "expired session reads as empty")
}

func TestMemoryStoreEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	store := chat.NewMemoryStore(chat.WithMaxSessions(2))

	require.NoError(t, store.Append(ctx, "a", model.UserMessage("1")))
	require.NoError(t, store.Append(ctx, "b", model.UserMessage("2")))
	_, _ = store.Get(ctx, "a")
	require.NoError(t, store.Append(ctx, "c", model.UserMessage("3")))

	n, _ := store.Len(ctx)
	assert.Equal(t, 2, n)
	b, _ := store.Get(ctx, "b")
	assert.Empty(t, b)
	a, _ := store.Get(ctx, "a")
	assert.Len(t, a, 1)
}

func TestMemoryStoreJanitor(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	store := chat.NewMemoryStore(chat.WithTTL(time.Minute), chat.WithClock(clock.Now))
	require.NoError(t, store.Append(context.Background(), "s", model.UserMessage("x")))
	clock.Advance(2 * time.Minute)

	store.StartJanitor(context.Background(), 5*time.Millisecond)
	defer store.StopJanitor()

	assert.Eventually(t, func() bool {
		n, _ := store.Len(context.Background())
		return n == 0
	}, time.Second, 5*time.Millisecond)
}

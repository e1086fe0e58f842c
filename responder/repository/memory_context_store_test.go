package repository

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/businesswalrus/pup.ai/responder/domain"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestMemoryContextStore_GetCreatesEmptyConversation(t *testing.T) {
	store := NewMemoryContextStore()
	key := domain.ConversationKey{ChannelID: "C1", UserID: "U1"}

	conv := store.Get(key)
	require.NotNil(t, conv)
	assert.Equal(t, key, conv.Key)
	assert.Empty(t, conv.Messages)
	assert.Equal(t, 1, store.Len())

	// Same key addresses the same conversation, not a new one.
	assert.Equal(t, key, store.Get(key).Key)
	assert.Equal(t, 1, store.Len())
}

func TestMemoryContextStore_GetReturnsSnapshot(t *testing.T) {
	store := NewMemoryContextStore()
	key := domain.ConversationKey{ChannelID: "C1", UserID: "U1"}

	store.Append(key, domain.Message{Role: domain.RoleUser, Text: "hello"})
	store.SetMetadata(key, "thread_id", "T1")

	snap := store.Get(key)

	// Writes to the snapshot never reach the store.
	snap.Messages[0].Text = "tampered"
	snap.Metadata["thread_id"] = "T2"
	fresh := store.Get(key)
	assert.Equal(t, "hello", fresh.Messages[0].Text)
	assert.Equal(t, "T1", fresh.Metadata["thread_id"])

	// Later appends never reach an earlier snapshot.
	store.Append(key, domain.Message{Role: domain.RoleAssistant, Text: "hi"})
	assert.Len(t, snap.Messages, 1)
}

func TestMemoryContextStore_ReadsSafeDuringEviction(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	store := NewMemoryContextStore(WithClock(fixedClock(now)))
	key := domain.ConversationKey{ChannelID: "C1", UserID: "U1"}

	for i := 0; i < 20; i++ {
		store.Append(key, domain.Message{
			Role:      domain.RoleUser,
			Text:      fmt.Sprintf("msg %d", i),
			Timestamp: now.Add(-time.Minute),
		})
	}
	conv := store.Get(key)

	// Readers holding a conversation must stay valid while the sweep
	// compacts the store underneath them; run with -race.
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			store.EvictStale(12 * time.Hour)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			for _, m := range conv.LastMessages(3) {
				_ = m.Text
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_ = store.Get(key).LastMessages(3)
			store.Append(key, domain.Message{
				Role:      domain.RoleUser,
				Text:      "more",
				Timestamp: now.Add(-time.Second),
			})
		}
	}()
	wg.Wait()

	assert.NotEmpty(t, store.Get(key).Messages)
}

func TestMemoryContextStore_AppendBoundsMessageCount(t *testing.T) {
	store := NewMemoryContextStore(WithMaxMessages(5))
	key := domain.ConversationKey{ChannelID: "C1", UserID: "U1"}

	for i := 0; i < 8; i++ {
		store.Append(key, domain.Message{Role: domain.RoleUser, Text: fmt.Sprintf("msg %d", i)})
	}

	conv := store.Get(key)
	require.Len(t, conv.Messages, 5)
	assert.Equal(t, "msg 3", conv.Messages[0].Text)
	assert.Equal(t, "msg 7", conv.Messages[4].Text)
}

func TestMemoryContextStore_AppendEnforcesTokenBudget(t *testing.T) {
	// 100 chars is roughly 25 estimated tokens per message, so a budget of
	// 60 keeps only the two most recent messages.
	store := NewMemoryContextStore(WithTokenBudget(60))
	key := domain.ConversationKey{ChannelID: "C1", UserID: "U1"}

	for i := 0; i < 4; i++ {
		store.Append(key, domain.Message{
			Role: domain.RoleUser,
			Text: fmt.Sprintf("%d%s", i, strings.Repeat("x", 99)),
		})
	}

	conv := store.Get(key)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, byte('2'), conv.Messages[0].Text[0])
	assert.Equal(t, byte('3'), conv.Messages[1].Text[0])
}

func TestMemoryContextStore_SetMetadata(t *testing.T) {
	store := NewMemoryContextStore()
	key := domain.ConversationKey{ChannelID: "C1", UserID: "U1"}

	store.SetMetadata(key, "thread_id", "T1")
	store.SetMetadata(key, "thread_id", "T2")

	assert.Equal(t, "T2", store.Get(key).Metadata["thread_id"])
}

func TestMemoryContextStore_ChannelWideWindow(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	store := NewMemoryContextStore(WithClock(fixedClock(now)))

	store.Append(domain.ConversationKey{ChannelID: "C1", UserID: "U1"}, domain.Message{
		Role: domain.RoleUser, Text: "too old", Timestamp: now.Add(-2 * time.Hour),
	})
	store.Append(domain.ConversationKey{ChannelID: "C1", UserID: "U2"}, domain.Message{
		Role: domain.RoleUser, Text: "second", Timestamp: now.Add(-10 * time.Minute),
	})
	store.Append(domain.ConversationKey{ChannelID: "C1", UserID: "U1"}, domain.Message{
		Role: domain.RoleAssistant, Text: "first", Timestamp: now.Add(-30 * time.Minute),
	})
	store.Append(domain.ConversationKey{ChannelID: "C2", UserID: "U1"}, domain.Message{
		Role: domain.RoleUser, Text: "other channel", Timestamp: now.Add(-5 * time.Minute),
	})

	msgs := store.ChannelWide("C1")
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Text)
	assert.Equal(t, "second", msgs[1].Text)
}

func TestMemoryContextStore_EvictStale(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	store := NewMemoryContextStore(WithClock(fixedClock(now)))

	idle := domain.ConversationKey{ChannelID: "C1", UserID: "idle"}
	store.Append(idle, domain.Message{
		Role: domain.RoleUser, Text: "long ago", Timestamp: now.Add(-24 * time.Hour),
	})

	active := domain.ConversationKey{ChannelID: "C1", UserID: "active"}
	store.Append(active, domain.Message{
		Role: domain.RoleUser, Text: "aged", Timestamp: now.Add(-13 * time.Hour),
	})
	store.Append(active, domain.Message{
		Role: domain.RoleAssistant, Text: "fresh", Timestamp: now.Add(-time.Minute),
	})

	evicted := store.EvictStale(12 * time.Hour)
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 1, store.Len())

	// The survivor keeps only messages inside the window.
	conv := store.Get(active)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, "fresh", conv.Messages[0].Text)

	// The idle conversation's channel messages are gone from the rolling
	// log as well.
	for _, m := range store.ChannelWide("C1") {
		assert.NotEqual(t, "long ago", m.Text)
	}
}

func TestMemoryContextStore_EvictStaleCapsSurvivors(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	store := NewMemoryContextStore(WithClock(fixedClock(now)), WithMaxMessages(100))
	key := domain.ConversationKey{ChannelID: "C1", UserID: "U1"}

	for i := 0; i < 40; i++ {
		store.Append(key, domain.Message{
			Role:      domain.RoleUser,
			Text:      fmt.Sprintf("msg %d", i),
			Timestamp: now.Add(-time.Minute),
		})
	}

	evicted := store.EvictStale(12 * time.Hour)
	assert.Zero(t, evicted)

	conv := store.Get(key)
	require.Len(t, conv.Messages, agedCleanupCap)
	assert.Equal(t, "msg 39", conv.Messages[len(conv.Messages)-1].Text)
}

func TestMemoryContextStore_Clear(t *testing.T) {
	store := NewMemoryContextStore()
	key := domain.ConversationKey{ChannelID: "C1", UserID: "U1"}

	store.Append(key, domain.Message{Role: domain.RoleUser, Text: "hello"})
	require.Equal(t, 1, store.Len())

	store.Clear(key)
	assert.Zero(t, store.Len())
	assert.Empty(t, store.Get(key).Messages)
}

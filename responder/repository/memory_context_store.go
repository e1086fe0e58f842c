package repository

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/businesswalrus/pup.ai/responder/domain"
)

const (
	// DefaultMaxMessages bounds each conversation's history length.
	DefaultMaxMessages = 50
	// DefaultTokenBudget bounds each conversation's estimated token cost.
	DefaultTokenBudget = 8000
	// DefaultMaxAge is the idle threshold for the eviction sweep.
	DefaultMaxAge = 12 * time.Hour
	// agedCleanupCap is the message cap applied to conversations that
	// survive an eviction sweep.
	agedCleanupCap = 30
	// channelWindow is how far back the channel-wide log reaches.
	channelWindow = time.Hour
	// channelLogCap bounds the per-channel rolling log.
	channelLogCap = 200
)

// MemoryContextStore is the in-memory implementation of domain.ContextStore.
// All chat traffic flows through it, so the size and age caps here are the
// only backpressure against unbounded input.
type MemoryContextStore struct {
	mu          sync.RWMutex
	convs       map[domain.ConversationKey]*domain.Conversation
	channelLogs map[string][]domain.Message

	maxMessages int
	tokenBudget int
	maxAge      time.Duration

	now func() time.Time
}

// ContextStoreOption tweaks store bounds, mostly for tests.
type ContextStoreOption func(*MemoryContextStore)

func WithMaxMessages(n int) ContextStoreOption {
	return func(s *MemoryContextStore) { s.maxMessages = n }
}

func WithTokenBudget(n int) ContextStoreOption {
	return func(s *MemoryContextStore) { s.tokenBudget = n }
}

func WithMaxAge(d time.Duration) ContextStoreOption {
	return func(s *MemoryContextStore) { s.maxAge = d }
}

func WithClock(now func() time.Time) ContextStoreOption {
	return func(s *MemoryContextStore) { s.now = now }
}

// NewMemoryContextStore creates a context store with the default bounds and
// starts the hourly eviction sweep.
func NewMemoryContextStore(opts ...ContextStoreOption) *MemoryContextStore {
	s := &MemoryContextStore{
		convs:       make(map[domain.ConversationKey]*domain.Conversation),
		channelLogs: make(map[string][]domain.Message),
		maxMessages: DefaultMaxMessages,
		tokenBudget: DefaultTokenBudget,
		maxAge:      DefaultMaxAge,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.sweepLoop()
	return s
}

// Get returns a snapshot of the conversation. The live record stays behind
// the lock so the hourly sweep can compact it while callers read the copy.
func (s *MemoryContextStore) Get(key domain.ConversationKey) *domain.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshotLocked(s.getLocked(key))
}

func snapshotLocked(conv *domain.Conversation) *domain.Conversation {
	cp := *conv
	cp.Messages = append([]domain.Message(nil), conv.Messages...)
	if len(conv.Metadata) > 0 {
		cp.Metadata = make(map[string]string, len(conv.Metadata))
		for k, v := range conv.Metadata {
			cp.Metadata[k] = v
		}
	} else {
		cp.Metadata = nil
	}
	return &cp
}

func (s *MemoryContextStore) getLocked(key domain.ConversationKey) *domain.Conversation {
	conv, ok := s.convs[key]
	if !ok {
		conv = &domain.Conversation{
			Key:        key,
			Metadata:   make(map[string]string),
			LastActive: s.now(),
		}
		s.convs[key] = conv
	}
	return conv
}

func (s *MemoryContextStore) Append(key domain.ConversationKey, msg domain.Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.getLocked(key)
	conv.Messages = append(conv.Messages, msg)
	conv.LastActive = msg.Timestamp
	s.trimLocked(conv)

	// Mirror into the channel-wide rolling log.
	log := append(s.channelLogs[key.ChannelID], msg)
	if len(log) > channelLogCap {
		log = log[len(log)-channelLogCap:]
	}
	s.channelLogs[key.ChannelID] = log
}

// trimLocked enforces the message-count bound, then the token budget:
// walk newest to oldest accumulating estimated cost and keep only the tail
// that fits.
func (s *MemoryContextStore) trimLocked(conv *domain.Conversation) {
	if s.maxMessages > 0 && len(conv.Messages) > s.maxMessages {
		conv.Messages = conv.Messages[len(conv.Messages)-s.maxMessages:]
	}
	if s.tokenBudget <= 0 {
		return
	}
	budget := 0
	keepFrom := 0
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		budget += conv.Messages[i].EstimatedTokens()
		if budget > s.tokenBudget {
			keepFrom = i + 1
			break
		}
	}
	if keepFrom > 0 {
		conv.Messages = conv.Messages[keepFrom:]
	}
}

func (s *MemoryContextStore) SetMetadata(key domain.ConversationKey, k, v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.getLocked(key)
	if conv.Metadata == nil {
		conv.Metadata = make(map[string]string)
	}
	conv.Metadata[k] = v
}

func (s *MemoryContextStore) ChannelWide(channelID string) []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := s.now().Add(-channelWindow)
	var result []domain.Message
	for _, m := range s.channelLogs[channelID] {
		if m.Timestamp.After(cutoff) {
			result = append(result, m)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result
}

func (s *MemoryContextStore) EvictStale(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-maxAge)
	evicted := 0

	for key, conv := range s.convs {
		if conv.LastActive.Before(cutoff) {
			delete(s.convs, key)
			evicted++
			continue
		}
		// Survivors drop aged messages and get capped tighter than the
		// normal bound.
		kept := conv.Messages[:0]
		for _, m := range conv.Messages {
			if m.Timestamp.After(cutoff) {
				kept = append(kept, m)
			}
		}
		if len(kept) > agedCleanupCap {
			kept = kept[len(kept)-agedCleanupCap:]
		}
		conv.Messages = kept
	}

	for channelID, log := range s.channelLogs {
		kept := log[:0]
		for _, m := range log {
			if m.Timestamp.After(cutoff) {
				kept = append(kept, m)
			}
		}
		if len(kept) == 0 {
			delete(s.channelLogs, channelID)
			continue
		}
		s.channelLogs[channelID] = kept
	}

	return evicted
}

func (s *MemoryContextStore) Clear(key domain.ConversationKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.convs, key)
}

func (s *MemoryContextStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.convs)
}

func (s *MemoryContextStore) sweepLoop() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for range ticker.C {
		if n := s.EvictStale(s.maxAge); n > 0 {
			logrus.Infof("[CONTEXT] Evicted %d stale conversations", n)
		}
	}
}

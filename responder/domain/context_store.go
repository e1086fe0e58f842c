package domain

import "time"

// ContextStore manages per-conversation bounded histories plus a rolling
// per-channel log. Implementations must be safe for concurrent use; absence
// of a conversation is never an error.
type ContextStore interface {
	// Get returns a point-in-time copy of the conversation, creating an
	// empty one if needed. Callers may read the copy without holding any
	// store lock; mutations go through Append and SetMetadata.
	Get(key ConversationKey) *Conversation

	// Append adds a message and enforces the max-message and token-budget
	// bounds, dropping oldest messages first.
	Append(key ConversationKey, msg Message)

	// SetMetadata replaces a metadata entry for the current turn.
	SetMetadata(key ConversationKey, k, v string)

	// ChannelWide returns all messages seen in the channel within the last
	// hour, across users, in time order.
	ChannelWide(channelID string) []Message

	// EvictStale removes conversations idle past maxAge. Surviving
	// conversations also drop messages older than maxAge and are capped at
	// the aged-cleanup limit.
	EvictStale(maxAge time.Duration) int

	// Clear deletes a conversation immediately.
	Clear(key ConversationKey)

	// Len reports how many conversations are held.
	Len() int
}

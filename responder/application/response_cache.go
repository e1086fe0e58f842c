package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/businesswalrus/pup.ai/responder/domain"
)

// fingerprintTurns is how much conversational state the cache key carries,
// so identical prompts issued in different conversations are not conflated.
const fingerprintTurns = 3

// defaultSkipPatterns flag prompts whose correct answer is time-variant.
// Such prompts must never be served from, or written to, the cache.
var defaultSkipPatterns = []string{
	`(?i)\b(today|tonight|tomorrow|yesterday|right now|now|currently|latest)\b`,
	`(?i)\b(time|date|week|month|year)\b`,
	`(?i)\b(weather|forecast|temperature)\b`,
	`(?i)\b(news|headline|headlines|breaking)\b`,
	`(?i)\b(random|roll|flip|pick|choose)\b`,
	`(?i)\b(stock|price|score|standings)\b`,
}

// ResponseCache fronts a bounded store with the skip-predicate and the
// prompt+context fingerprint.
type ResponseCache struct {
	store domain.ResponseCacheStore
	ttl   time.Duration
	skip  []*regexp.Regexp
}

// NewResponseCache builds a cache over the given store. extraSkip patterns
// extend the default time-variant predicate; an invalid pattern is logged
// and ignored.
func NewResponseCache(store domain.ResponseCacheStore, ttl time.Duration, extraSkip []string) *ResponseCache {
	c := &ResponseCache{store: store, ttl: ttl}
	for _, p := range append(append([]string{}, defaultSkipPatterns...), extraSkip...) {
		re, err := regexp.Compile(p)
		if err != nil {
			logrus.WithError(err).Warnf("[CACHE] Invalid skip pattern %q, ignoring", p)
			continue
		}
		c.skip = append(c.skip, re)
	}
	return c
}

// Skippable reports whether the prompt matches the skip-predicate.
func (c *ResponseCache) Skippable(prompt string) bool {
	for _, re := range c.skip {
		if re.MatchString(prompt) {
			return true
		}
	}
	return false
}

// Get returns the cached completion for this prompt+context, or nil on a
// miss. Skip-eligible prompts always miss. Hits are annotated as cached.
func (c *ResponseCache) Get(ctx context.Context, prompt string, conv *domain.Conversation, isDM bool) *domain.Completion {
	if c.Skippable(prompt) {
		return nil
	}

	fp := c.Fingerprint(prompt, conv, isDM)
	cached, err := c.store.Get(ctx, fp)
	if err != nil {
		logrus.WithError(err).Warn("[CACHE] Lookup failed, treating as miss")
		return nil
	}
	if cached == nil {
		return nil
	}

	hit := *cached
	hit.Cached = true
	logrus.Debugf("[CACHE] Hit for fingerprint %s", fp[:12])
	return &hit
}

// Put stores a completion unless the prompt is skip-eligible.
func (c *ResponseCache) Put(ctx context.Context, prompt string, conv *domain.Conversation, isDM bool, completion *domain.Completion) {
	if c.Skippable(prompt) {
		return
	}
	fp := c.Fingerprint(prompt, conv, isDM)
	if err := c.store.Save(ctx, fp, completion, c.ttl); err != nil {
		logrus.WithError(err).Warn("[CACHE] Save failed")
	}
}

// PurgeExpired eagerly drops stale entries from the store.
func (c *ResponseCache) PurgeExpired(ctx context.Context) error {
	return c.store.PurgeExpired(ctx)
}

// Clear empties the store.
func (c *ResponseCache) Clear(ctx context.Context) error {
	return c.store.Clear(ctx)
}

// Len reports the store occupancy.
func (c *ResponseCache) Len(ctx context.Context) (int, error) {
	return c.store.Len(ctx)
}

// Fingerprint hashes the salient request inputs: prompt text, channel, DM
// flag, a summary of the last few turns, and the metadata snapshot.
func (c *ResponseCache) Fingerprint(prompt string, conv *domain.Conversation, isDM bool) string {
	h := sha256.New()
	fmt.Fprintf(h, "prompt:%s\n", prompt)
	fmt.Fprintf(h, "channel:%s\n", conv.Key.ChannelID)
	fmt.Fprintf(h, "dm:%t\n", isDM)

	for _, m := range conv.LastMessages(fingerprintTurns) {
		fmt.Fprintf(h, "turn:%s:%s\n", m.Role, m.Text)
	}

	if len(conv.Metadata) > 0 {
		keys := make([]string, 0, len(conv.Metadata))
		for k := range conv.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(h, "meta:%s=%s\n", k, conv.Metadata[k])
		}
	}

	return hex.EncodeToString(h.Sum(nil))
}

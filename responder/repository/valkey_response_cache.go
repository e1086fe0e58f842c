package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	valkeylib "github.com/valkey-io/valkey-go"

	"github.com/businesswalrus/pup.ai/infrastructure/valkey"
	"github.com/businesswalrus/pup.ai/responder/domain"
)

// ValkeyResponseCacheStore implements domain.ResponseCacheStore on Valkey
// for multi-process deployments. Expiration is handled natively via TTL;
// the size bound is left to the server's eviction policy.
type ValkeyResponseCacheStore struct {
	client *valkey.Client
	prefix string
}

// NewValkeyResponseCacheStore creates a Valkey-backed response cache store.
func NewValkeyResponseCacheStore(client *valkey.Client) *ValkeyResponseCacheStore {
	return &ValkeyResponseCacheStore{
		client: client,
		prefix: client.Key("responses") + ":",
	}
}

func (s *ValkeyResponseCacheStore) fullKey(fingerprint string) string {
	return s.prefix + fingerprint
}

func (s *ValkeyResponseCacheStore) inner() valkeylib.Client {
	return s.client.Inner()
}

func (s *ValkeyResponseCacheStore) Get(ctx context.Context, fingerprint string) (*domain.Completion, error) {
	cmd := s.inner().B().Get().Key(s.fullKey(fingerprint)).Build()

	data, err := s.inner().Do(ctx, cmd).AsBytes()
	if err != nil {
		if valkeylib.IsValkeyNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cached response: %w", err)
	}

	var c domain.Completion
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached response: %w", err)
	}
	return &c, nil
}

func (s *ValkeyResponseCacheStore) Save(ctx context.Context, fingerprint string, c *domain.Completion, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal cached response: %w", err)
	}

	cmd := s.inner().B().Set().
		Key(s.fullKey(fingerprint)).
		Value(string(data)).
		Ex(ttl).
		Build()

	if err := s.inner().Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to save cached response: %w", err)
	}
	return nil
}

// PurgeExpired is a no-op: Valkey expires entries natively via TTL.
func (s *ValkeyResponseCacheStore) PurgeExpired(ctx context.Context) error {
	return nil
}

func (s *ValkeyResponseCacheStore) Clear(ctx context.Context) error {
	keys, err := s.scanKeys(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	cmd := s.inner().B().Del().Key(keys...).Build()
	if err := s.inner().Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to clear response cache: %w", err)
	}
	return nil
}

func (s *ValkeyResponseCacheStore) Len(ctx context.Context) (int, error) {
	keys, err := s.scanKeys(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (s *ValkeyResponseCacheStore) scanKeys(ctx context.Context) ([]string, error) {
	var keys []string
	var cursor uint64

	for {
		cmd := s.inner().B().Scan().Cursor(cursor).Match(s.prefix + "*").Count(100).Build()
		result, err := s.inner().Do(ctx, cmd).AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("failed to scan response cache: %w", err)
		}
		keys = append(keys, result.Elements...)
		cursor = result.Cursor
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

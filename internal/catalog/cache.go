package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofrs/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const cachePrefix = "catalog"

// CachedReader is a cache-aside decorator over a Reader. Redis failures degrade to the
// wrapped reader; they are never returned to the caller.
type CachedReader struct {
	Reader
	client *redis.Client
	ttl    time.Duration
}

func NewCachedReader(next Reader, client *redis.Client, ttl time.Duration) *CachedReader {
	return &CachedReader{Reader: next, client: client, ttl: ttl}
}

func productKey(id uuid.UUID) string { return cachePrefix + ":product:" + id.String() }
func variantKey(id uuid.UUID) string { return cachePrefix + ":variant:" + id.String() }
func packKey(id uuid.UUID) string    { return cachePrefix + ":pack:" + id.String() }

func (c *CachedReader) GetProduct(ctx context.Context, id uuid.UUID) (*Product, error) {
	return readThrough(ctx, c, productKey(id), func() (*Product, error) {
		return c.Reader.GetProduct(ctx, id)
	})
}

func (c *CachedReader) GetWeightVariant(ctx context.Context, id uuid.UUID) (*WeightVariant, error) {
	return readThrough(ctx, c, variantKey(id), func() (*WeightVariant, error) {
		return c.Reader.GetWeightVariant(ctx, id)
	})
}

func (c *CachedReader) GetPack(ctx context.Context, id uuid.UUID) (*Pack, error) {
	return readThrough(ctx, c, packKey(id), func() (*Pack, error) {
		return c.Reader.GetPack(ctx, id)
	})
}

// Invalidate drops cached entries for the given subjects, e.g. after their stock changed.
func (c *CachedReader) Invalidate(ctx context.Context, subjects ...Subject) {
	keys := make([]string, 0, len(subjects)*2)
	for _, s := range subjects {
		switch v := s.(type) {
		case ProductSubject:
			keys = append(keys, productKey(v.ProductID))
			if v.VariantID.Valid {
				keys = append(keys, variantKey(v.VariantID.UUID))
			}
		case PackSubject:
			keys = append(keys, packKey(v.PackID))
		}
	}
	if len(keys) == 0 {
		return
	}

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		log.Warn().Err(err).Strs("keys", keys).Msg("cache: failed to invalidate catalog entries")
	}
}

func readThrough[T any](ctx context.Context, c *CachedReader, key string, load func() (*T, error)) (*T, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached T
		jsonErr := json.Unmarshal(raw, &cached)
		if jsonErr == nil {
			return &cached, nil
		}
		log.Warn().Err(jsonErr).Str("key", key).Msg("cache: dropping undecodable catalog entry")
	case !errors.Is(err, redis.Nil):
		log.Warn().Err(err).Str("key", key).Msg("cache: catalog lookup failed, reading from database")
	}

	value, err := load()
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(value)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache: failed to encode catalog entry")
		return value, nil
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache: failed to store catalog entry")
	}

	return value, nil
}

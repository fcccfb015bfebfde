package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Rrens/insights-gateway/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	schemaCachePrefix     = "schema:"
	defaultSchemaCacheTTL = 5 * time.Minute
)

// SchemaCache caches warehouse table schemas and table lists in Redis
type SchemaCache struct {
	client *Client
	ttl    time.Duration
}

// NewSchemaCache creates a new schema cache; a non-positive ttl uses the default
func NewSchemaCache(client *Client, ttl time.Duration) *SchemaCache {
	if ttl <= 0 {
		ttl = defaultSchemaCacheTTL
	}
	return &SchemaCache{client: client, ttl: ttl}
}

// SchemaKey builds the cache key of a table schema. Names are lowercased.
func SchemaKey(engine, dataset, table string) string {
	return schemaCachePrefix + strings.ToLower(engine+":"+dataset+":"+table)
}

// TablesKey builds the cache key of a dataset's table list
func TablesKey(engine, dataset string) string {
	return schemaCachePrefix + strings.ToLower(engine+":"+dataset) + ":#tables"
}

// GetTable retrieves a cached table schema. A miss returns (nil, nil).
func (c *SchemaCache) GetTable(ctx context.Context, engine, dataset, table string) (*domain.TableSchema, error) {
	var schema domain.TableSchema
	found, err := c.get(ctx, SchemaKey(engine, dataset, table), &schema)
	if err != nil || !found {
		return nil, err
	}
	return &schema, nil
}

// SetTable caches a table schema
func (c *SchemaCache) SetTable(ctx context.Context, engine string, schema *domain.TableSchema) error {
	cached := *schema
	cached.CachedAt = time.Now().UTC()
	return c.set(ctx, SchemaKey(engine, schema.Dataset, schema.Name), cached)
}

// GetTables retrieves a cached table list. A miss returns (nil, nil).
func (c *SchemaCache) GetTables(ctx context.Context, engine, dataset string) ([]string, error) {
	var tables []string
	found, err := c.get(ctx, TablesKey(engine, dataset), &tables)
	if err != nil || !found {
		return nil, err
	}
	return tables, nil
}

// SetTables caches a table list
func (c *SchemaCache) SetTables(ctx context.Context, engine, dataset string, tables []string) error {
	return c.set(ctx, TablesKey(engine, dataset), tables)
}

// Invalidate removes the cached schema of one table
func (c *SchemaCache) Invalidate(ctx context.Context, engine, dataset, table string) error {
	return c.client.rdb.Del(ctx, SchemaKey(engine, dataset, table)).Err()
}

// FlushAll removes all cached schemas
func (c *SchemaCache) FlushAll(ctx context.Context) (int64, error) {
	pattern := schemaCachePrefix + "*"
	var cursor uint64
	var deleted int64

	for {
		keys, nextCursor, err := c.client.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return deleted, fmt.Errorf("failed to scan keys: %w", err)
		}

		if len(keys) > 0 {
			count, err := c.client.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, fmt.Errorf("failed to delete keys: %w", err)
			}
			deleted += count
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return deleted, nil
}

func (c *SchemaCache) get(ctx context.Context, key string, dst any) (bool, error) {
	data, err := c.client.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read cache: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	return true, nil
}

func (c *SchemaCache) set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cached value: %w", err)
	}
	return c.client.rdb.Set(ctx, key, data, c.ttl).Err()
}

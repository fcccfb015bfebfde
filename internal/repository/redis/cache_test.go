package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSchemaKey(t *testing.T) {
	assert.Equal(t, "schema:bigquery:analytics:events", SchemaKey("bigquery", "Analytics", "Events"))
	assert.Equal(t, "schema:postgres:sales:#tables", TablesKey("postgres", "Sales"))
}

func TestWindowKey(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 30, 45, 0, time.UTC)
	key := WindowKey("user-1", at)
	assert.Equal(t, key, WindowKey("user-1", at.Add(10*time.Second)))
	assert.NotEqual(t, key, WindowKey("user-1", at.Add(time.Minute)))
	assert.Contains(t, key, "ratelimit:user-1:")
}

func TestNewSchemaCache_DefaultTTL(t *testing.T) {
	assert.Equal(t, defaultSchemaCacheTTL, NewSchemaCache(nil, 0).ttl)
	assert.Equal(t, time.Hour, NewSchemaCache(nil, time.Hour).ttl)
}

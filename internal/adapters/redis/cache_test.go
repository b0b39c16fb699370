package redis

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyPrefix(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "drilldown:v1:x", New(nil, "").key("drilldown:v1:x"))
	assert.Equal(t, "turismo:drilldown:v1:x", New(nil, "turismo").key("drilldown:v1:x"))
}

func TestConnect_UnreachableServer(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Connect(ctx, Config{Addr: "127.0.0.1:1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping")
}

func TestGet_TransportErrorIsReturned(t *testing.T) {
	t.Parallel()

	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 200 * time.Millisecond})
	c := New(client, "")
	t.Cleanup(func() { _ = c.Close() })

	_, found, err := c.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.False(t, found)
}

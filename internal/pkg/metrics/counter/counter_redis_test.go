package counter

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/LicenseFox/internal/pkg/env"
)

const isolatedCounterTestRedisDB = 12

func newIsolatedRedisClient(t *testing.T) *redis.Client {
	t.Helper()

	addr := fmt.Sprintf("%s:%s", env.GetEnv("CACHE_HOST", "localhost"), env.GetEnv("CACHE_PORT", "6379"))
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		DB:       isolatedCounterTestRedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	_, err := client.Ping(ctx).Result()
	cancel()
	if err != nil {
		_ = client.Close()
		t.Skipf("Skipping Redis-dependent test: no reachable Redis endpoint (%v)", err)
	}

	require.NoError(t, client.FlushDB(context.Background()).Err())
	t.Cleanup(func() {
		_ = client.FlushDB(context.Background()).Err()
		_ = client.Close()
	})
	return client
}

// unreachableDB is a MySQL handle whose statements all fail to connect.
func unreachableDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       "licensefox:secret@tcp(127.0.0.1:1)/licensefox?timeout=1s",
		SkipInitializeWithVersion: true,
	}), &gorm.Config{DisableAutomaticPing: true, Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	return db
}

func TestFlush_FailedWriteKeepsCounts(t *testing.T) {
	rdb := newIsolatedRedisClient(t)
	c := NewVerificationCounter(rdb, unreachableDB(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, c.Add(ctx, 7))
	}
	require.NoError(t, c.Add(ctx, 9))

	n, err := c.Flush(ctx)
	require.Error(t, err)
	assert.Zero(t, n)

	pending, err := rdb.HGetAll(ctx, licenseVerificationsKey).Result()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"7": "3", "9": "1"}, pending)

	leftovers, err := rdb.Keys(ctx, licenseVerificationsKey+":tmp:*").Result()
	require.NoError(t, err)
	assert.Empty(t, leftovers)

	// a second failure neither loses nor doubles the counts
	require.NoError(t, c.Add(ctx, 7))
	_, err = c.Flush(ctx)
	require.Error(t, err)
	pending, err = rdb.HGetAll(ctx, licenseVerificationsKey).Result()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"7": "4", "9": "1"}, pending)
}

func TestFlush_NothingPending(t *testing.T) {
	rdb := newIsolatedRedisClient(t)
	c := NewVerificationCounter(rdb, unreachableDB(t))

	n, err := c.Flush(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

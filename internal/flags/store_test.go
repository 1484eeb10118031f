package flags

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   1, // Use different DB for tests
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Test connection
	err := client.Ping(ctx).Err()
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	// Clear test DB
	err = client.FlushDB(ctx).Err()
	require.NoError(t, err)

	return client
}

func cleanupTestRedis(_ *testing.T, client *redis.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_ = client.FlushDB(ctx).Err()
	_ = client.Close()
}

func TestStore_Set(t *testing.T) {
	client := setupTestRedis(t)
	defer cleanupTestRedis(t, client)

	store, err := NewStore(client)
	require.NoError(t, err)

	ctx := context.Background()

	// Setting a new switch
	flag, err := store.Set(ctx, "test.flag", true)
	assert.NoError(t, err)
	assert.NotNil(t, flag)
	assert.Equal(t, "test.flag", flag.Key)
	assert.True(t, flag.Value)
	assert.NotZero(t, flag.UpdatedAt)

	// Verify it was written
	retrieved, err := store.Get(ctx, "test.flag")
	assert.NoError(t, err)
	assert.Equal(t, flag.Key, retrieved.Key)
	assert.Equal(t, flag.Value, retrieved.Value)
	assert.Equal(t, flag.UpdatedAt, retrieved.UpdatedAt)

	// Updating an existing switch
	time.Sleep(time.Millisecond) // Ensure different timestamp
	flag2, err := store.Set(ctx, "test.flag", false)
	assert.NoError(t, err)
	assert.True(t, flag2.UpdatedAt.After(flag.UpdatedAt))

	retrieved, err = store.Get(ctx, "test.flag")
	assert.NoError(t, err)
	assert.False(t, retrieved.Value)
	assert.Equal(t, flag2.UpdatedAt, retrieved.UpdatedAt)
}

func TestStore_Get(t *testing.T) {
	client := setupTestRedis(t)
	defer cleanupTestRedis(t, client)

	store, err := NewStore(client)
	require.NoError(t, err)

	ctx := context.Background()

	// Missing switch
	flag, err := store.Get(ctx, "nonexistent.flag")
	assert.Error(t, err)
	assert.Equal(t, ErrNotFound, err)
	assert.Nil(t, flag)

	_, err = store.Set(ctx, "test.flag", true)
	require.NoError(t, err)

	flag, err = store.Get(ctx, "test.flag")
	assert.NoError(t, err)
	assert.NotNil(t, flag)
	assert.Equal(t, "test.flag", flag.Key)
	assert.True(t, flag.Value)
	assert.NotZero(t, flag.UpdatedAt)
}

func TestStore_Delete(t *testing.T) {
	client := setupTestRedis(t)
	defer cleanupTestRedis(t, client)

	store, err := NewStore(client)
	require.NoError(t, err)

	ctx := context.Background()

	_, err = store.Set(ctx, "test.flag", true)
	require.NoError(t, err)

	_, err = store.Get(ctx, "test.flag")
	assert.NoError(t, err)

	err = store.Delete(ctx, "test.flag")
	assert.NoError(t, err)

	_, err = store.Get(ctx, "test.flag")
	assert.Error(t, err)
	assert.Equal(t, ErrNotFound, err)

	// Deleting a missing switch is not an error
	err = store.Delete(ctx, "nonexistent.flag")
	assert.NoError(t, err)
}

func TestStore_List(t *testing.T) {
	client := setupTestRedis(t)
	defer cleanupTestRedis(t, client)

	store, err := NewStore(client)
	require.NoError(t, err)

	ctx := context.Background()

	// Empty list
	switches, err := store.List(ctx)
	assert.NoError(t, err)
	assert.Empty(t, switches)

	updates := map[string]bool{
		"flag1": true,
		"flag2": false,
		"flag3": true,
	}

	for key, value := range updates {
		_, err := store.Set(ctx, key, value)
		require.NoError(t, err)
	}

	switches, err = store.List(ctx)
	assert.NoError(t, err)
	assert.Len(t, switches, 3)

	got := make(map[string]bool)
	for _, f := range switches {
		got[f.Key] = f.Value
	}

	for key, expected := range updates {
		actual, exists := got[key]
		assert.True(t, exists, "Switch %s should exist", key)
		assert.Equal(t, expected, actual, "Switch %s should have correct value", key)
	}
}

func TestStore_Enabled(t *testing.T) {
	client := setupTestRedis(t)
	defer cleanupTestRedis(t, client)

	store, err := NewStore(client)
	require.NoError(t, err)

	ctx := context.Background()

	// Missing switch degrades to the default
	assert.True(t, store.Enabled(ctx, KeyTradingEnabled, true))
	assert.False(t, store.Enabled(ctx, KeyTradingEnabled, false))

	_, err = store.Set(ctx, KeyTradingEnabled, false)
	require.NoError(t, err)

	// A stored value beats the default
	assert.False(t, store.Enabled(ctx, KeyTradingEnabled, true))

	_, err = store.Set(ctx, KeyTradingEnabled, true)
	require.NoError(t, err)
	assert.True(t, store.Enabled(ctx, KeyTradingEnabled, false))
}

func TestStore_ConcurrentOperations(t *testing.T) {
	client := setupTestRedis(t)
	defer cleanupTestRedis(t, client)

	store, err := NewStore(client)
	require.NoError(t, err)

	ctx := context.Background()

	const numGoroutines = 10
	const numOps = 100

	done := make(chan bool, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer func() { done <- true }()
			for j := 0; j < numOps; j++ {
				key := fmt.Sprintf("flag.%d.%d", id, j)
				value := (id+j)%2 == 0

				_, err := store.Set(ctx, key, value)
				assert.NoError(t, err)

				retrieved, err := store.Get(ctx, key)
				assert.NoError(t, err)
				assert.Equal(t, value, retrieved.Value)
			}
		}(i)
	}

	for i := 0; i < numGoroutines; i++ {
		<-done
	}

	switches, err := store.List(ctx)
	assert.NoError(t, err)
	assert.Len(t, switches, numGoroutines*numOps)
}

func TestStore_KeyValidation(t *testing.T) {
	client := setupTestRedis(t)
	defer cleanupTestRedis(t, client)

	store, err := NewStore(client)
	require.NoError(t, err)

	ctx := context.Background()

	validKeys := []string{
		"simple.flag",
		"flag.with.dots",
		"flag123",
		"a",
		"trading.enabled",
		"very.long.flag.name.with.many.parts",
	}

	for _, key := range validKeys {
		_, err := store.Set(ctx, key, true)
		assert.NoError(t, err, "Key %s should be valid", key)
	}

	invalidKeys := []string{
		"",
		" ",
		"flag with spaces",
		"flag:with:colons",
		"flag\twith\ttabs",
		"flag\nwith\nnewlines",
	}

	for _, key := range invalidKeys {
		_, err := store.Set(ctx, key, true)
		require.Error(t, err, "Key %s should be invalid", key)
		assert.Contains(t, err.Error(), "invalid switch key")
	}
}

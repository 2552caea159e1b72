package redisstore

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Conduit/internal/repo"
	"github.com/shaiso/Conduit/internal/repo/repotest"
)

// testClient подключается к Redis из CONDUIT_TEST_REDIS_ADDR.
// Без переменной тесты пропускаются.
func testClient(t *testing.T) *redis.Client {
	t.Helper()

	addr := os.Getenv("CONDUIT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CONDUIT_TEST_REDIS_ADDR not set")
	}

	client, err := Connect(context.Background(), addr)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

// cleanPrefix удаляет все ключи с префиксом после теста.
func cleanPrefix(t *testing.T, client *redis.Client, prefix string) {
	t.Cleanup(func() {
		ctx := context.Background()
		iter := client.Scan(ctx, 0, prefix+"*", 0).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	})
}

func TestStores(t *testing.T) {
	client := testClient(t)

	repotest.Run(t, func(t *testing.T) (repo.RunStore, repo.TaskStore) {
		// Свой префикс на подтест: сценарии не видят данных друг друга
		prefix := "conduit:test:" + uuid.NewString() + ":"
		cleanPrefix(t, client, prefix)
		return NewRunStore(client, prefix), NewTaskStore(client, prefix)
	})
}

package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/effective-security/biomcp/chatmodel"
	"github.com/effective-security/biomcp/pkg/llms"
	"github.com/effective-security/biomcp/store"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	rediscon "github.com/testcontainers/testcontainers-go/modules/redis"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	redisContainer, err := rediscon.Run(ctx, "redis:7",
		testcontainers.WithConfigModifier(func(config *container.Config) {
			config.Env = []string{
				"ALLOW_EMPTY_PASSWORD=yes",
				"REDIS_PASSWORD=redis",
				"REDIS_TLS_PORT=16379",
			}
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, redisContainer.Terminate(ctx))
	})

	state, err := redisContainer.State(ctx)
	require.NoError(t, err)
	require.True(t, state.Running)

	connStr, err := redisContainer.ConnectionString(ctx)
	require.NoError(t, err)

	options, err := redis.ParseURL(connStr)
	require.NoError(t, err)

	client := redis.NewClient(options)
	require.NoError(t, client.Ping(ctx).Err(), "failed to connect to Redis")
	return client
}

func Test_RedisStore(t *testing.T) {
	ctx := context.Background()
	client := startRedis(t)

	prefix := fmt.Sprintf("test-%d", time.Now().Unix())
	st := store.NewRedisStore(client, prefix)

	question := llms.MessageFromTextParts(llms.RoleHuman, "What diseases are associated with BRAF?")
	answer := llms.MessageFromTextParts(llms.RoleAI, "Melanoma and several other cancers carry BRAF mutations.")

	// every operation requires a chat context
	expErr := "invalid chat context"
	assert.EqualError(t, st.Reset(ctx), expErr)
	assert.EqualError(t, st.Add(ctx, question), expErr)
	_, err := st.UpdateChat(ctx, "", nil)
	assert.EqualError(t, err, expErr)
	_, err = st.ListChats(ctx)
	assert.EqualError(t, err, expErr)
	_, err = st.GetChatInfo(ctx, "")
	assert.EqualError(t, err, expErr)
	assert.Empty(t, st.Messages(ctx))

	tenantID := "org-genetics"
	chatID := "braf-session"
	ctx = chatmodel.WithChatContext(ctx, chatmodel.NewChatContext(tenantID, chatID, map[string]string{"source": "web"}))

	tID, cID, err := chatmodel.GetTenantAndChatID(ctx)
	require.NoError(t, err)
	assert.Equal(t, tenantID, tID)
	assert.Equal(t, chatID, cID)

	// title is empty until the chat record exists
	title, err := st.GetChatTitle(ctx, cID)
	require.NoError(t, err)
	assert.Empty(t, title)

	require.NoError(t, st.Add(ctx, question))
	require.NoError(t, st.Add(ctx, answer))

	title, err = st.GetChatTitle(ctx, cID)
	require.NoError(t, err)
	assert.Equal(t, "New Chat", title)

	_, err = st.UpdateChat(ctx, "BRAF associations", nil)
	require.NoError(t, err)
	title, err = st.GetChatTitle(ctx, cID)
	require.NoError(t, err)
	assert.Equal(t, "BRAF associations", title)

	title, err = st.GetChatTitle(ctx, "nonexistent")
	require.NoError(t, err)
	assert.Equal(t, "", title)

	messages := st.Messages(ctx)
	require.Len(t, messages, 2)
	assert.Equal(t, question, messages[0])
	assert.Equal(t, answer, messages[1])

	chi, err := st.GetChatInfo(ctx, cID)
	require.NoError(t, err)
	assert.Equal(t, tenantID, chi.TenantID)
	assert.Equal(t, chatID, chi.ChatID)

	list, err := st.ListChats(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	// a second chat for the same tenant gets a generated ID
	secondCtx := chatmodel.NewChatContext(tenantID, "", nil)
	ctx = chatmodel.WithChatContext(ctx, secondCtx)

	tID, cID, err = chatmodel.GetTenantAndChatID(ctx)
	require.NoError(t, err)
	assert.Equal(t, tenantID, tID)
	assert.NotEqual(t, chatID, cID)

	now := time.Now()
	time.Sleep(2 * time.Millisecond)
	_, err = st.UpdateChat(ctx, "TP53 review", map[string]any{"gene": "TP53"})
	require.NoError(t, err)
	ci, err := st.GetChatInfo(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, secondCtx.GetTenantID(), ci.TenantID)
	assert.Equal(t, secondCtx.GetChatID(), ci.ChatID)
	assert.True(t, ci.CreatedAt.After(now))
	assert.True(t, ci.UpdatedAt.After(now))
	updatedAt := ci.UpdatedAt

	// adding a message bumps UpdatedAt
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, st.Add(ctx, question))
	ci2, err := st.GetChatInfo(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, secondCtx.GetChatID(), ci2.ChatID)
	assert.True(t, ci2.UpdatedAt.After(updatedAt))

	chats, err := st.ListChats(ctx)
	require.NoError(t, err)
	assert.Len(t, chats, 2)
	for _, chat := range chats {
		ci, err := st.GetChatInfo(ctx, chat)
		require.NoError(t, err)
		assert.Equal(t, tenantID, ci.TenantID)
	}

	tenants, err := st.ListTenants(ctx)
	require.NoError(t, err)
	assert.Contains(t, tenants, tenantID)

	// stale chats are removed, fresh ones kept
	deleted, err := st.Cleanup(ctx, tenantID, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), deleted)

	deleted, err = st.Cleanup(ctx, tenantID, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), deleted)

	assert.Empty(t, st.Messages(ctx))

	require.NoError(t, st.Add(ctx, question))
	require.NoError(t, st.Reset(ctx))
	assert.Empty(t, st.Messages(ctx))
}

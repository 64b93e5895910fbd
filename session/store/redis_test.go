package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	medragerr "github.com/sweetpotato0/medrag/errors"
	"github.com/sweetpotato0/medrag/message"
	"github.com/sweetpotato0/medrag/session"
)

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	ctx := context.Background()
	store := NewRedisStore(RedisConfig{Addr: addr, Prefix: "medrag-test:" + uuid.NewString() + ":", TTL: time.Minute})
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Ping(ctx))

	sess := session.New("", "dr-9")
	sess.Append(0, message.NewMessage(message.RoleUser, "Hi"), message.NewMessage(message.RoleAssistant, "Hello!"))
	require.NoError(t, store.Save(ctx, sess))

	loaded, err := store.Load(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "dr-9", loaded.CallerID)
	require.Len(t, loaded.Messages, 2)
	assert.Equal(t, "Hello!", loaded.Messages[1].Content)

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{sess.ID}, ids)

	require.NoError(t, store.Delete(ctx, sess.ID))
	_, err = store.Load(ctx, sess.ID)
	assert.True(t, medragerr.IsNotFound(err))
}

func TestNewRedisStoreDefaults(t *testing.T) {
	store := NewRedisStore(RedisConfig{})
	t.Cleanup(func() { _ = store.Close() })
	assert.Equal(t, "medrag:session:abc", store.sessionKey("abc"))
	assert.Equal(t, "medrag:session:set", store.setKey())
}

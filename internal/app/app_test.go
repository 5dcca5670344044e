package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/freibot/backend/internal/config"
	"github.com/zhouzirui/freibot/backend/internal/model/chat"
	chatService "github.com/zhouzirui/freibot/backend/internal/service/chat"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.VectorStore.Path = filepath.Join(t.TempDir(), "index.json")
	cfg.AI.APIKey = ""
	cfg.AI.AccessKey = ""
	cfg.AI.SecretKey = ""
	cfg.Embedding.APIKey = ""
	return cfg
}

func TestNewWithoutCredentials(t *testing.T) {
	a, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Conversation)
	assert.Nil(t, a.AI)
	assert.Nil(t, a.Embedder)
	assert.IsType(t, &chatService.MemoryStore{}, a.Sessions)
	assert.Equal(t, false, a.Status().LLMConfigured)

	_, err = a.Ingest(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, ErrEmbeddingsDisabled)
}

func TestNewWiresEmbeddings(t *testing.T) {
	cfg := testConfig(t)
	cfg.Embedding.APIKey = "sk-test"

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.Retriever)
	assert.True(t, a.Status().EmbeddingsConfigured)
	assert.Nil(t, a.Conversation, "no language model configured")
}

func TestNewRedisSessions(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Session.Backend = "redis"
	cfg.Session.RedisURL = "redis://" + mr.Addr()

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Sessions.Append(context.Background(), "s", chat.UserMessage("Hallo")))
	assert.True(t, mr.Exists(cfg.Session.KeyPrefix+"s"))
}

func TestNewUnknownTokenizer(t *testing.T) {
	cfg := testConfig(t)
	cfg.Context.Tokenizer = "bogus"
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

package vault

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"social-automation-dashboard/config"
)

func TestMockClient_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewMockClient()
	assert.False(t, c.IsEnabled())
	assert.NoError(t, c.Health(ctx))

	_, err := c.GetCredentials(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, c.PutCredentials(ctx, "u1", BotCredentials{AccountEmail: "me@example.com", SessionCookie: "li_at=abc"}))
	got, err := c.GetCredentials(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "li_at=abc", got.SessionCookie)
	assert.False(t, got.UpdatedAt.IsZero())

	// returned values are copies
	got.SessionCookie = "changed"
	again, err := c.GetCredentials(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "li_at=abc", again.SessionCookie)

	require.NoError(t, c.DeleteCredentials(ctx, "u1"))
	_, err = c.GetCredentials(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPaths(t *testing.T) {
	c, err := NewClient(config.VaultConfig{MountPath: "secret", SecretPath: "social-bot/sessions"})
	require.NoError(t, err)

	assert.Equal(t, "secret/data/social-bot/sessions/u1", c.secretPath("u1"))
	assert.Equal(t, "secret/metadata/social-bot/sessions/u1", c.metadataPath("u1"))

	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, c.PutCredentials(context.Background(), "u2", BotCredentials{SessionCookie: "x", UpdatedAt: ts}))
	got, err := c.GetCredentials(context.Background(), "u2")
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.Equal(ts))
}

// kvServer is a minimal KV v2 endpoint. Deletes fail while failDelete is set.
type kvServer struct {
	mu         sync.Mutex
	data       map[string]interface{}
	reads      int
	failDelete bool
}

func (k *kvServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	k.mu.Lock()
	defer k.mu.Unlock()
	switch r.Method {
	case http.MethodPut, http.MethodPost:
		var body struct {
			Data map[string]interface{} `json:"data"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		k.data = body.Data
		w.WriteHeader(http.StatusNoContent)
	case http.MethodGet:
		k.reads++
		if k.data == nil {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":[]}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]interface{}{"data": k.data}})
	case http.MethodDelete:
		if k.failDelete {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"errors":["permission denied"]}`))
			return
		}
		k.data = nil
		w.WriteHeader(http.StatusNoContent)
	}
}

func (k *kvServer) readCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.reads
}

func newVaultClient(t *testing.T, kv *kvServer) *Client {
	t.Helper()
	srv := httptest.NewServer(kv)
	t.Cleanup(srv.Close)
	c, err := NewClient(config.VaultConfig{Enabled: true, Address: srv.URL, Token: "root", MountPath: "secret", SecretPath: "bots"})
	require.NoError(t, err)
	return c
}

func TestDeleteCredentials_DropsCachedCopy(t *testing.T) {
	ctx := context.Background()
	kv := &kvServer{}
	c := newVaultClient(t, kv)

	require.NoError(t, c.PutCredentials(ctx, "u1", BotCredentials{SessionCookie: "li_at=abc"}))
	got, err := c.GetCredentials(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "li_at=abc", got.SessionCookie)
	assert.Zero(t, kv.readCount(), "served from the cache")

	require.NoError(t, c.DeleteCredentials(ctx, "u1"))
	_, err = c.GetCredentials(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, kv.readCount())
}

func TestDeleteCredentials_FailureStillReadsThrough(t *testing.T) {
	ctx := context.Background()
	kv := &kvServer{failDelete: true}
	c := newVaultClient(t, kv)

	require.NoError(t, c.PutCredentials(ctx, "u1", BotCredentials{SessionCookie: "li_at=abc"}))
	assert.Error(t, c.DeleteCredentials(ctx, "u1"))

	got, err := c.GetCredentials(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "li_at=abc", got.SessionCookie)
	assert.Equal(t, 1, kv.readCount(), "the cached copy was dropped")
}

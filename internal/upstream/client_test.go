package upstream

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsproxy/dsproxy/internal/apperr"
	"github.com/dsproxy/dsproxy/internal/config"
)

func testConfig(url string) config.DeepSeekConfig {
	cfg := config.Default().DeepSeek
	cfg.APIKey = "sk-test"
	cfg.BaseURL = url
	cfg.TimeoutSeconds = 5
	return cfg
}

func TestChatStreamForwardsAuthAndBody(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: {\"choices\":[]}\n\n"))
	}))
	defer srv.Close()

	body, err := PrepareBody(map[string]any{"model": "deepseek-chat", "stream": false, "custom_field": 1})
	require.NoError(t, err)

	resp, err := New(testConfig(srv.URL)).ChatStream(context.Background(), body)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, true, gotBody["stream"], "stream must be coerced to true")
	assert.Equal(t, float64(1), gotBody["custom_field"], "extra fields pass through")

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "choices")
}

func TestChatStreamNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := New(testConfig(srv.URL)).ChatStream(context.Background(), []byte(`{}`))
	require.Error(t, err)
	assert.Equal(t, apperr.UpstreamError, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "500")
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestChatStreamNetworkError(t *testing.T) {
	// Nothing listens here.
	_, err := New(testConfig("http://127.0.0.1:1")).ChatStream(context.Background(), []byte(`{}`))
	require.Error(t, err)
	assert.Equal(t, apperr.UpstreamError, apperr.KindOf(err))
}

func TestChatStreamTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := New(testConfig(srv.URL)).ChatStream(ctx, []byte(`{}`))
	require.Error(t, err)
	assert.Equal(t, apperr.UpstreamTimeout, apperr.KindOf(err))
}

// Package upstream wraps the HTTP client for the chat-completion service.
// It owns the API key, the pooled transport, and the translation of
// transport failures into the error kinds the pipeline maps to 502/504.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dsproxy/dsproxy/internal/apperr"
	"github.com/dsproxy/dsproxy/internal/config"
)

// maxErrorBody caps how much of an upstream error body is echoed into the
// 502 message.
const maxErrorBody = 512

type Client struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
}

// New builds the client with the pool settings from config. The overall
// timeout covers the whole exchange including the streamed body, so it
// must be generous.
func New(cfg config.DeepSeekConfig) *Client {
	hc := cfg.HTTPClient
	dialer := &net.Dialer{
		Timeout:   time.Duration(hc.ConnectTimeoutSeconds) * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConnsPerHost: hc.PoolMaxIdlePerHost,
		MaxIdleConns:        hc.PoolMaxIdlePerHost * 2,
		IdleConnTimeout:     time.Duration(hc.PoolIdleTimeoutSeconds) * time.Second,
		ForceAttemptHTTP2:   hc.HTTP2AdaptiveWindow,
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
	}
}

// BaseURL returns the configured upstream base, for startup logging.
func (c *Client) BaseURL() string { return c.baseURL }

// ChatStream POSTs the prepared JSON body to /chat/completions and returns
// the open response. The caller owns resp.Body and must close it; the
// streaming passthrough does so when the client disconnects or the stream
// drains.
func (c *Client) ChatStream(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "build upstream request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			log.Warn().Err(err).Msg("upstream request timed out")
			return nil, apperr.Wrap(apperr.UpstreamTimeout, "upstream request timed out", err)
		}
		log.Error().Err(err).Msg("upstream request failed")
		return nil, apperr.Wrap(apperr.UpstreamError, "upstream request failed", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		log.Error().Int("status", resp.StatusCode).Str("body", string(text)).Msg("upstream returned error status")
		return nil, apperr.Newf(apperr.UpstreamError, "upstream returned %d: %s", resp.StatusCode, strings.TrimSpace(string(text)))
	}

	return resp, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Timeout() {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

// PrepareBody forces stream=true in the request JSON while passing every
// other field through untouched.
func PrepareBody(raw map[string]any) ([]byte, error) {
	raw["stream"] = true
	body, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode upstream body: %w", err)
	}
	return body, nil
}

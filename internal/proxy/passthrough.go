// Package proxy contains the streaming passthrough that pipes the upstream
// SSE body to the client byte-for-byte. The passthrough owns the user's
// concurrency permit: whatever ends the stream (upstream EOF, upstream
// error, client disconnect, shutdown), the release path runs exactly once.
package proxy

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dsproxy/dsproxy/internal/metrics"
	"github.com/dsproxy/dsproxy/internal/token"
)

const copyBufferSize = 8 * 1024

// usageFrame is the slice of an SSE data payload we care about. Upstreams
// that bill per token attach it to the final frame of the stream.
type usageFrame struct {
	Usage *struct {
		PromptTokens          uint64 `json:"prompt_tokens"`
		CompletionTokens      uint64 `json:"completion_tokens"`
		PromptCacheHitTokens  uint64 `json:"prompt_cache_hit_tokens"`
		PromptCacheMissTokens uint64 `json:"prompt_cache_miss_tokens"`
	} `json:"usage"`
}

// Passthrough forwards one upstream response body. Not safe for concurrent
// use; one request owns it.
type Passthrough struct {
	body   io.ReadCloser
	permit *token.Permit
	mets   *metrics.Metrics

	closeOnce  sync.Once
	usageSeen  bool
	totalBytes int64
	lineBuf    bytes.Buffer // partial SSE line carried across chunks
}

func NewPassthrough(body io.ReadCloser, permit *token.Permit, mets *metrics.Metrics) *Passthrough {
	return &Passthrough{body: body, permit: permit, mets: mets}
}

// Copy streams the body to w, flushing after every chunk so SSE frames
// reach the client promptly. It always closes the passthrough before
// returning; a write error means the client went away, which is not an
// upstream failure.
func (p *Passthrough) Copy(w io.Writer) error {
	defer p.Close()

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, copyBufferSize)

	for {
		n, readErr := p.body.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			p.totalBytes += int64(n)
			p.observe(chunk)

			if _, writeErr := w.Write(chunk); writeErr != nil {
				log.Debug().Err(writeErr).Msg("client disconnected mid-stream")
				return writeErr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return nil
			}
			log.Warn().Err(readErr).Msg("upstream stream ended with error")
			return readErr
		}
	}
}

// Close releases the permit and the upstream body. Idempotent. If no usage
// frame arrived, output tokens are estimated once as total_bytes/4.
func (p *Passthrough) Close() {
	p.closeOnce.Do(func() {
		p.permit.Release()
		_ = p.body.Close()

		if !p.usageSeen && p.mets != nil {
			p.mets.RecordOutputTokens(uint64(p.totalBytes / 4))
		}
	})
}

// observe scans the chunk for a usage frame without touching the forwarded
// bytes. After a usage frame is found, parsing stops for the rest of the
// stream.
func (p *Passthrough) observe(chunk []byte) {
	if p.usageSeen {
		return
	}

	p.lineBuf.Write(chunk)
	for {
		data := p.lineBuf.Bytes()
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		line := make([]byte, idx)
		copy(line, data[:idx])
		p.lineBuf.Next(idx + 1)

		p.parseLine(bytes.TrimSpace(line))
		if p.usageSeen {
			p.lineBuf.Reset()
			return
		}
	}
}

func (p *Passthrough) parseLine(line []byte) {
	payload, ok := bytes.CutPrefix(line, []byte("data:"))
	if !ok {
		return
	}
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("[DONE]")) {
		return
	}

	var frame usageFrame
	if err := json.Unmarshal(payload, &frame); err != nil || frame.Usage == nil {
		return
	}

	u := frame.Usage
	if p.mets != nil {
		p.mets.RecordInputTokens(u.PromptTokens)
		p.mets.RecordOutputTokens(u.CompletionTokens)
		p.mets.RecordPromptCacheHitTokens(u.PromptCacheHitTokens)
		p.mets.RecordPromptCacheMissTokens(u.PromptCacheMissTokens)
	}
	p.usageSeen = true
	log.Debug().
		Uint64("promptTokens", u.PromptTokens).
		Uint64("completionTokens", u.CompletionTokens).
		Msg("usage frame recorded")
}

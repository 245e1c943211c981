// Package modelserver is the HTTP client for an Ollama-compatible model
// server: embeddings, streamed chat generation, and the installed-model
// listing.
package modelserver

import (
	"bufio"
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

	"go.uber.org/zap"
)

const (
	embedTimeout = 60 * time.Second
	tagsTimeout  = 5 * time.Second

	// chatIdleTimeout aborts a generation stream that produces no
	// fragment for this long.
	chatIdleTimeout = 30 * time.Second

	defaultTemperature = 0.7
)

// embedRetryDelays are the backoff steps between embedding attempts.
var embedRetryDelays = []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}

// Client talks to one model server over a shared keep-alive transport.
type Client struct {
	baseURL  string
	embedDim int
	http     *http.Client
	logger   *zap.Logger

	// idleTimeout bounds the wait for the next chat fragment.
	// Overridable in tests.
	idleTimeout time.Duration
}

// New returns a Client for the server at baseURL. Embeddings shorter or
// longer than embedDim are rejected; zero disables the check. Request
// timeouts are applied per call, not on the shared http.Client.
func New(baseURL string, embedDim int, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		embedDim: embedDim,
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        16,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
				// A server that accepts the connection but never
				// answers must not hang a stream forever.
				ResponseHeaderTimeout: chatIdleTimeout,
			},
		},
		logger:      logger.Named("modelserver"),
		idleTimeout: chatIdleTimeout,
	}
}

// Embed returns the embedding vector for one text. Transient failures
// (connection errors, 5xx, timeouts) are retried up to three times with
// backoff; malformed replies are not.
func (c *Client) Embed(ctx context.Context, model, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrEmbedding, err)
	}

	var lastErr error
	for attempt := 0; attempt <= len(embedRetryDelays); attempt++ {
		if attempt > 0 {
			c.logger.Warn("retrying embedding request",
				zap.Int("attempt", attempt+1), zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(embedRetryDelays[attempt-1]):
			}
		}

		vec, retryable, err := c.embedOnce(ctx, body)
		if err == nil {
			return vec, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrEmbedding, lastErr)
}

func (c *Client) embedOnce(ctx context.Context, body []byte) (vec []float32, retryable bool, err error) {
	callCtx, cancel := context.WithTimeout(ctx, embedTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost,
		c.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		return nil, resp.StatusCode >= 500, err
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, false, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, false, fmt.Errorf("empty embedding in response")
	}
	if c.embedDim > 0 && len(out.Embedding) != c.embedDim {
		return nil, false, fmt.Errorf("embedding length %d, want %d", len(out.Embedding), c.embedDim)
	}
	return out.Embedding, false, nil
}

// ChatStream sends a prompt for generation and invokes fn for every text
// fragment as it arrives. The stream ends when the server marks the final
// fragment done, fn returns an error, the context is cancelled, or no
// fragment arrives within the idle timeout. Generation is never retried.
func (c *Client) ChatStream(ctx context.Context, model, prompt string, fn func(token string) error) error {
	body, err := json.Marshal(chatRequest{
		Model:   model,
		Prompt:  prompt,
		Stream:  true,
		Options: chatOptions{Temperature: defaultTemperature},
	})
	if err != nil {
		return fmt.Errorf("%w: encode request: %v", ErrGeneration, err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(streamCtx, http.MethodPost,
		c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrGeneration,
			resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	type lineResult struct {
		fragment chatFragment
		err      error
	}
	lines := make(chan lineResult)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var frag chatFragment
			if err := json.Unmarshal(line, &frag); err != nil {
				select {
				case lines <- lineResult{err: fmt.Errorf("decode fragment: %w", err)}:
				case <-streamCtx.Done():
				}
				return
			}
			select {
			case lines <- lineResult{fragment: frag}:
			case <-streamCtx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			select {
			case lines <- lineResult{err: err}:
			case <-streamCtx.Done():
			}
		}
	}()

	idle := time.NewTimer(c.idleTimeout)
	defer idle.Stop()

	for {
		// Cancellation wins over a concurrently closing stream.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idle.C:
			return fmt.Errorf("%w: no output for %s", ErrGeneration, c.idleTimeout)
		case res, ok := <-lines:
			if !ok {
				// Stream closed without a done marker; treat the
				// output so far as complete.
				return nil
			}
			if res.err != nil {
				return fmt.Errorf("%w: %v", ErrGeneration, res.err)
			}
			if res.fragment.Response != "" {
				if err := fn(res.fragment.Response); err != nil {
					return err
				}
			}
			if res.fragment.Done {
				return nil
			}
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(c.idleTimeout)
		}
	}
}

// ListModels returns the installed models. One retry on any failure.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		models, err := c.listModelsOnce(ctx)
		if err == nil {
			return models, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", ErrUnreachable, lastErr)
}

func (c *Client) listModelsOnce(ctx context.Context) ([]ModelInfo, error) {
	callCtx, cancel := context.WithTimeout(ctx, tagsTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	var out tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out.Models, nil
}

// Reachable reports whether the server answers at all. Used by the
// status endpoint; a DNS or dial failure means unreachable, anything
// else means the server is up.
func (c *Client) Reachable(ctx context.Context) bool {
	_, err := c.listModelsOnce(ctx)
	if err == nil {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return false
	}
	return true
}

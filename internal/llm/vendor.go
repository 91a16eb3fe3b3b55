package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/fablehq/fable-relay/internal/config"
)

// UpstreamError is a non-2xx response from the vendor API.
type UpstreamError struct {
	API    string
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("llm: %s upstream status %d: %s", e.API, e.Status, e.Body)
}

// Vendor streams chat turns from an OpenAI-compatible endpoint, speaking
// either the responses API or the chat completions API. In auto mode it
// tries responses first and falls back to chat completions when the
// server answers 400, 404, or 405.
type Vendor struct {
	baseURL string
	apiKey  string
	model   string
	api     string
	client  *http.Client
	logger  zerolog.Logger
}

// NewVendor builds a vendor client from the llm config block.
func NewVendor(cfg config.LLMConfig, logger zerolog.Logger) *Vendor {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	connect := 10 * time.Second
	if timeout < connect {
		connect = timeout
	}
	return &Vendor{
		baseURL: NormalizeBaseURL(cfg.BaseURL),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		api:     cfg.API,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: connect}).DialContext,
			},
		},
		logger: logger,
	}
}

// NormalizeBaseURL trims trailing slashes and ensures the /v1 suffix the
// OpenAI-compatible APIs are served under.
func NormalizeBaseURL(raw string) string {
	u := strings.TrimRight(raw, "/")
	if !strings.HasSuffix(u, "/v1") {
		u += "/v1"
	}
	return u
}

// Stream starts the upstream call and returns the token channel. The
// request is posted synchronously so connection and status failures
// surface here; body decoding happens in a goroutine.
func (v *Vendor) Stream(ctx context.Context, req Request, capture *Capture) (<-chan Chunk, error) {
	capture.Provider = ProviderOpenAI
	capture.Model = v.model

	api := v.api
	if api == config.LLMAPIAuto {
		api = config.LLMAPIResponses
	}
	capture.API = api

	resp, err := v.post(ctx, api, req.Text)
	if err != nil && v.api == config.LLMAPIAuto && shouldFallBack(err) {
		v.logger.Debug().Err(err).Msg("responses API unavailable, falling back to chat completions")
		api = config.LLMAPIChat
		capture.API = api
		resp, err = v.post(ctx, api, req.Text)
	}
	if err != nil {
		return nil, err
	}

	out := make(chan Chunk)
	go v.decode(ctx, api, resp.Body, capture, out)
	return out, nil
}

// shouldFallBack reports whether the responses probe hit a server that
// routes the path but does not implement it.
func shouldFallBack(err error) bool {
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		return false
	}
	switch ue.Status {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusMethodNotAllowed:
		return true
	}
	return false
}

func (v *Vendor) post(ctx context.Context, api, text string) (*http.Response, error) {
	var path string
	var payload any
	switch api {
	case config.LLMAPIChat:
		path = "/chat/completions"
		payload = map[string]any{
			"model":    v.model,
			"messages": []map[string]string{{"role": "user", "content": text}},
			"stream":   true,
		}
	default:
		path = "/responses"
		payload = map[string]any{
			"model":  v.model,
			"input":  text,
			"stream": true,
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("llm: marshal %s request: %w", api, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm: build %s request: %w", api, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+v.apiKey)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := v.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("llm: %s: %w", api, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		resp.Body.Close()
		return nil, &UpstreamError{API: api, Status: resp.StatusCode, Body: strings.TrimSpace(string(detail))}
	}
	return resp, nil
}

// decode reads SSE events off the response body until [DONE], EOF, or
// cancellation. Malformed events are skipped; usage objects are captured
// from wherever the API nests them.
func (v *Vendor) decode(ctx context.Context, api string, body io.ReadCloser, capture *Capture, out chan<- Chunk) {
	defer close(out)
	defer body.Close()

	events := newSSEReader(body)
	for {
		data, err := events.Next()
		if err != nil {
			if err != io.EOF && ctx.Err() == nil {
				v.emit(ctx, out, Chunk{Err: fmt.Errorf("llm: %s stream: %w", api, err)})
			}
			return
		}
		if data == "[DONE]" {
			return
		}

		var chunk vendorChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		chunk.applyUsage(capture)

		token := chunk.token(api)
		if token == "" {
			continue
		}
		if !v.emit(ctx, out, Chunk{Token: token}) {
			return
		}
	}
}

func (v *Vendor) emit(ctx context.Context, out chan<- Chunk, c Chunk) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

// vendorChunk is the union of the stream event shapes the two APIs emit.
// Chat completions carries deltas under choices and usage at the top
// level; the responses API emits typed events with a flat delta string
// and nests final usage under response.
type vendorChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *usagePayload `json:"usage"`

	Type     string `json:"type"`
	Delta    string `json:"delta"`
	Response *struct {
		Usage *usagePayload `json:"usage"`
	} `json:"response"`
}

func (c *vendorChunk) token(api string) string {
	if api == config.LLMAPIChat {
		if len(c.Choices) > 0 {
			return c.Choices[0].Delta.Content
		}
		return ""
	}
	if c.Type == "response.output_text.delta" {
		return c.Delta
	}
	return ""
}

func (c *vendorChunk) applyUsage(capture *Capture) {
	if c.Usage != nil {
		c.Usage.apply(capture)
	}
	if c.Response != nil && c.Response.Usage != nil {
		c.Response.Usage.apply(capture)
	}
}

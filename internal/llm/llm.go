// Package llm streams model output for chat turns. Two backends exist: a
// synthetic echo for development and tests, and a vendor client speaking
// the OpenAI-compatible responses and chat completions streaming APIs.
package llm

import (
	"context"
)

// Provider names recorded in usage accounting.
const (
	ProviderSynthetic = "synthetic"
	ProviderOpenAI    = "openai"
)

// Request is one chat turn sent upstream.
type Request struct {
	Text string
}

// Chunk is one unit of stream output. Err, when set, is terminal: the
// channel closes after delivering it.
type Chunk struct {
	Token string
	Err   error
}

// Capture collects provider identity and token counts as a stream
// progresses. Identity fields are filled before any upstream I/O so an
// accounting row can be written even when the call fails immediately;
// token counts arrive opportunistically and stay nil when the provider
// never reports them. The caller reads Capture only after the chunk
// channel closes.
type Capture struct {
	Provider string
	API      string
	Model    string

	PromptTokens     *int
	CompletionTokens *int
	TotalTokens      *int
}

// Client produces a lazy token stream for one chat turn.
//
// Stream fills capture's identity fields, starts the upstream call, and
// returns a channel of token chunks. The channel closes when the
// upstream finishes, fails, or ctx is cancelled; cancellation is
// observed promptly and no chunk is delivered after it.
type Client interface {
	Stream(ctx context.Context, req Request, capture *Capture) (<-chan Chunk, error)
}

// usagePayload carries the token-count aliases the two APIs emit:
// prompt/completion from chat completions, input/output from the
// responses API. Total is derived from the pair when absent.
type usagePayload struct {
	PromptTokens     *int `json:"prompt_tokens"`
	CompletionTokens *int `json:"completion_tokens"`
	TotalTokens      *int `json:"total_tokens"`
	InputTokens      *int `json:"input_tokens"`
	OutputTokens     *int `json:"output_tokens"`
}

func (u *usagePayload) apply(c *Capture) {
	prompt := u.PromptTokens
	if prompt == nil {
		prompt = u.InputTokens
	}
	completion := u.CompletionTokens
	if completion == nil {
		completion = u.OutputTokens
	}
	total := u.TotalTokens
	if total == nil && prompt != nil && completion != nil {
		sum := *prompt + *completion
		total = &sum
	}
	if prompt != nil {
		c.PromptTokens = prompt
	}
	if completion != nil {
		c.CompletionTokens = completion
	}
	if total != nil {
		c.TotalTokens = total
	}
}

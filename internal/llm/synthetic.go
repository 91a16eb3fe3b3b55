package llm

import (
	"context"
	"time"
)

// Synthetic is the development backend. It echoes the prompt back one
// character per token without any upstream I/O and reports no token
// counts.
type Synthetic struct {
	// TokenDelay spaces out tokens so interactive runs look like a real
	// stream. Zero disables the delay.
	TokenDelay time.Duration
}

// NewSynthetic creates a synthetic client with a small per-token delay.
func NewSynthetic() *Synthetic {
	return &Synthetic{TokenDelay: 20 * time.Millisecond}
}

// Stream emits the synthetic reply one rune at a time.
func (s *Synthetic) Stream(ctx context.Context, req Request, capture *Capture) (<-chan Chunk, error) {
	capture.Provider = ProviderSynthetic
	capture.API = ProviderSynthetic
	capture.Model = ProviderSynthetic

	out := make(chan Chunk)
	go func() {
		defer close(out)
		for _, r := range "echo: " + req.Text {
			if !s.pause(ctx) {
				return
			}
			select {
			case out <- Chunk{Token: string(r)}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *Synthetic) pause(ctx context.Context) bool {
	if s.TokenDelay <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(s.TokenDelay)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

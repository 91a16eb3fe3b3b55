// Package chat runs the per-session LLM stream: at most one active
// stream per connection, token-by-token append and delivery through the
// session's outbound writer, and a finalize step that always lands the
// CHAT_DONE event and the usage row even when the client is already
// gone.
package chat

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fablehq/fable-relay/internal/llm"
	"github.com/fablehq/fable-relay/internal/stream"
	"github.com/fablehq/fable-relay/internal/usage"
)

// tokenPayload is the CHAT_TOKEN event body.
type tokenPayload struct {
	Token           string  `json:"token"`
	ClientRequestID *string `json:"client_request_id"`
}

// donePayload is the CHAT_DONE event body.
type donePayload struct {
	Interrupted     bool    `json:"interrupted"`
	ClientRequestID *string `json:"client_request_id"`
	Error           *string `json:"error"`
}

// Orchestrator drives chat streams for one session. Start, Interrupt,
// and Close are called from the session's dispatch goroutine; the
// stream itself runs in its own goroutine and survives session teardown
// long enough to finalize.
type Orchestrator struct {
	log    *stream.Log
	client llm.Client
	usage  usage.Store
	user   string
	save   string
	flush  func(context.Context) error
	logger zerolog.Logger

	mu     sync.Mutex
	active *run
}

type run struct {
	stop context.CancelFunc
	done chan struct{}
}

// New wires an orchestrator for one session. flush delivers pending log
// frames through the session's serialized writer.
func New(log *stream.Log, client llm.Client, store usage.Store, user, save string, flush func(context.Context) error, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		log:    log,
		client: client,
		usage:  store,
		user:   user,
		save:   save,
		flush:  flush,
		logger: logger,
	}
}

// Start interrupts any active stream, waits for it to finalize, then
// launches a new stream for text. One stream per connection.
func (o *Orchestrator) Start(ctx context.Context, text, requestID string) {
	o.wait()

	runCtx, cancel := context.WithCancel(ctx)
	r := &run{stop: cancel, done: make(chan struct{})}
	o.mu.Lock()
	o.active = r
	o.mu.Unlock()

	go o.stream(runCtx, r, text, requestID)
}

// Interrupt signals the active stream to stop without waiting.
func (o *Orchestrator) Interrupt() {
	o.mu.Lock()
	r := o.active
	o.mu.Unlock()
	if r != nil {
		r.stop()
	}
}

// Close stops the active stream and waits for its finalize to complete.
func (o *Orchestrator) Close() {
	o.wait()
}

func (o *Orchestrator) wait() {
	o.mu.Lock()
	r := o.active
	o.mu.Unlock()
	if r != nil {
		r.stop()
		<-r.done
	}
}

// stream runs one upstream call from first token to finalize.
func (o *Orchestrator) stream(ctx context.Context, r *run, text, requestID string) {
	defer close(r.done)
	defer r.stop()
	defer func() {
		o.mu.Lock()
		if o.active == r {
			o.active = nil
		}
		o.mu.Unlock()
	}()

	started := time.Now()
	var (
		capture     llm.Capture
		ttftMs      *int64
		chunks      int
		chars       int
		interrupted bool
		streamErr   *string
	)
	fail := func(err error) {
		msg := err.Error()
		streamErr = &msg
	}

	chunkCh, err := o.client.Stream(ctx, llm.Request{Text: text}, &capture)
	if err != nil {
		if ctx.Err() == nil {
			fail(err)
		}
	} else {
		for c := range chunkCh {
			if c.Err != nil {
				if ctx.Err() == nil {
					fail(c.Err)
				}
				break
			}
			if chunks == 0 {
				ms := time.Since(started).Milliseconds()
				ttftMs = &ms
			}
			payload := tokenPayload{Token: c.Token, ClientRequestID: optional(requestID)}
			if _, err := o.log.Append(ctx, o.user, o.save, stream.FrameChatToken, payload, false); err != nil {
				if ctx.Err() == nil {
					fail(err)
				}
				break
			}
			chunks++
			chars += len(c.Token)
			if err := o.flush(ctx); err != nil {
				interrupted = true
				break
			}
		}
	}
	if ctx.Err() != nil {
		interrupted = true
	}

	// Quiesce the producer before finalize reads the capture: cancel,
	// then drain until the client closes the channel, so no late usage
	// write races the read.
	r.stop()
	if chunkCh != nil {
		for range chunkCh {
		}
	}

	o.finalize(ctx, started, &capture, ttftMs, chunks, chars, interrupted, streamErr, requestID)
}

// finalize lands the CHAT_DONE event, then the usage row, then the
// best-effort socket delivery. The usage write must complete before the
// socket send: clients treat DONE as the signal that accounting is
// queryable. Runs under a cancel shield so teardown never loses the
// bookkeeping.
func (o *Orchestrator) finalize(ctx context.Context, started time.Time, capture *llm.Capture, ttftMs *int64, chunks, chars int, interrupted bool, streamErr *string, requestID string) {
	shield := context.WithoutCancel(ctx)

	payload := donePayload{
		Interrupted:     interrupted,
		ClientRequestID: optional(requestID),
		Error:           streamErr,
	}
	if _, err := o.log.Append(shield, o.user, o.save, stream.FrameChatDone, payload, true); err != nil {
		o.logger.Error().Err(err).
			Str("user", o.user).Str("save", o.save).
			Msg("chat done append failed")
	}

	ended := time.Now()
	row := &usage.Row{
		UserID:           o.user,
		SaveID:           o.save,
		Provider:         capture.Provider,
		API:              capture.API,
		Model:            capture.Model,
		StartedAt:        started,
		EndedAt:          ended,
		LatencyMs:        ended.Sub(started).Milliseconds(),
		TTFTMs:           ttftMs,
		OutputChunks:     chunks,
		OutputChars:      chars,
		Interrupted:      interrupted,
		Error:            streamErr,
		PromptTokens:     capture.PromptTokens,
		CompletionTokens: capture.CompletionTokens,
		TotalTokens:      capture.TotalTokens,
	}
	if err := o.usage.Insert(shield, row); err != nil {
		o.logger.Error().Err(err).
			Str("user", o.user).Str("save", o.save).
			Msg("usage insert failed")
	}

	if err := o.flush(shield); err != nil {
		o.logger.Debug().Err(err).Msg("chat done delivery skipped, client gone")
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Package engine drives full turns: request assembly, the provider
// call (blocking or streamed), result persistence, and the tool-call
// feedback loop that feeds results into the next cycle.
package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/bionic-gpt/bionic-gpt-sub002/internal/assembler"
	"github.com/bionic-gpt/bionic-gpt-sub002/internal/chat"
	"github.com/bionic-gpt/bionic-gpt-sub002/internal/concurrency"
	"github.com/bionic-gpt/bionic-gpt-sub002/internal/contract"
	apperrors "github.com/bionic-gpt/bionic-gpt-sub002/internal/errors"
	"github.com/bionic-gpt/bionic-gpt-sub002/internal/logger"
	"github.com/bionic-gpt/bionic-gpt-sub002/internal/sink"
	"github.com/bionic-gpt/bionic-gpt-sub002/internal/store"
	"github.com/bionic-gpt/bionic-gpt-sub002/internal/stream"
)

// Provider is the model endpoint surface the runner depends on.
type Provider interface {
	Complete(ctx context.Context, ep contract.Endpoint, req contract.CompletionRequest) (*contract.CompletionResponse, error)
	OpenStream(ctx context.Context, ep contract.Endpoint, req contract.CompletionRequest) (io.ReadCloser, error)
}

type Config struct {
	// MaxToolCycles caps how many tool-call/response cycles one turn may
	// chain before the runner gives up.
	MaxToolCycles int
	// ErrorsToChat renders streaming transport errors into the
	// conversation instead of failing the turn.
	ErrorsToChat bool
	// StreamBufferSize bounds the event channel between the enricher and
	// the receiver.
	StreamBufferSize int
	// ProviderTimeout bounds one provider exchange: a blocking completion
	// call, or a streamed cycle from open through the last event. Zero
	// means no deadline.
	ProviderTimeout time.Duration
}

type Runner struct {
	store     store.Store
	assembler *assembler.Assembler
	provider  Provider
	sink      *sink.Sink
	locks     *concurrency.ConversationLockManager
	cfg       Config
}

func NewRunner(st store.Store, asm *assembler.Assembler, prov Provider, snk *sink.Sink, cfg Config) *Runner {
	if cfg.MaxToolCycles <= 0 {
		cfg.MaxToolCycles = 5
	}
	if cfg.StreamBufferSize <= 0 {
		cfg.StreamBufferSize = 64
	}
	return &Runner{
		store:     st,
		assembler: asm,
		provider:  prov,
		sink:      snk,
		locks:     concurrency.NewConversationLockManager(),
		cfg:       cfg,
	}
}

// RunTurn processes the triggering chat to completion with blocking
// provider calls, following tool feedback cycles up to the configured
// cap. It returns the final snapshot text.
func (r *Runner) RunTurn(ctx context.Context, subject, chatID string) (string, error) {
	conversationID, err := r.resolveConversation(ctx, subject, chatID)
	if err != nil {
		return "", err
	}
	ctx = logger.WithConversationID(ctx, conversationID)

	r.locks.Lock(conversationID)
	defer r.locks.Unlock(conversationID)

	snapshot := ""
	for cycle := 0; cycle < r.cfg.MaxToolCycles; cycle++ {
		prep, err := r.assemble(ctx, subject, chatID)
		if err != nil {
			return "", err
		}

		resp, err := r.complete(ctx, prep)
		if err != nil {
			if persistErr := r.persist(ctx, sink.Input{
				ChatID:  chatID,
				Subject: subject,
				Status:  chat.StatusError,
			}); persistErr != nil {
				slog.Error("Persisting failed turn failed", "chat_id", chatID, "error", persistErr)
			}
			return "", err
		}

		snapshot = resp.Content
		if err := r.persist(ctx, sink.Input{
			ChatID:    chatID,
			Subject:   subject,
			Snapshot:  snapshot,
			ToolCalls: resp.ToolCalls,
			Status:    chat.StatusSuccess,
		}); err != nil {
			return "", err
		}

		if len(resp.ToolCalls) == 0 {
			return snapshot, nil
		}
		slog.Debug("Turn requested tools", "chat_id", chatID, "cycle", cycle+1, "count", len(resp.ToolCalls))
	}

	return snapshot, fmt.Errorf("tool cycle limit %d reached: %w", r.cfg.MaxToolCycles, apperrors.ErrTransient)
}

// StreamTurn runs one streamed cycle, forwarding enriched events to out
// as they arrive. Tool calls are not carried over the stream; a
// tool-capable turn should go through RunTurn. out is closed before
// return.
func (r *Runner) StreamTurn(ctx context.Context, subject, chatID string, out chan<- stream.Event) (string, error) {
	defer close(out)

	conversationID, err := r.resolveConversation(ctx, subject, chatID)
	if err != nil {
		return "", err
	}
	ctx = logger.WithConversationID(ctx, conversationID)

	r.locks.Lock(conversationID)
	defer r.locks.Unlock(conversationID)

	prep, err := r.assemble(ctx, subject, chatID)
	if err != nil {
		return "", err
	}

	// The deadline covers the whole streamed exchange; the request body
	// is tied to this context, so a stalled stream aborts the scan.
	streamCtx := ctx
	if r.cfg.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		streamCtx, cancel = context.WithTimeout(ctx, r.cfg.ProviderTimeout)
		defer cancel()
	}

	body, err := r.provider.OpenStream(streamCtx, prep.Endpoint, prep.Request)
	if err != nil {
		if persistErr := r.persist(ctx, sink.Input{
			ChatID:  chatID,
			Subject: subject,
			Status:  chat.StatusError,
		}); persistErr != nil {
			slog.Error("Persisting failed turn failed", "chat_id", chatID, "error", persistErr)
		}
		return "", err
	}

	enricher := &stream.Enricher{ErrorsToChat: r.cfg.ErrorsToChat}
	events := make(chan stream.Event, r.cfg.StreamBufferSize)
	go enricher.Run(streamCtx, body, events)

	snapshot := ""
	status := chat.StatusSuccess
	var streamErr error
	for ev := range events {
		switch ev.Kind {
		case stream.EventText, stream.EventEnd:
			snapshot = ev.Snapshot
		case stream.EventError:
			status = chat.StatusError
			streamErr = ev.Err
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return snapshot, ctx.Err()
		}
	}

	if err := r.persist(ctx, sink.Input{
		ChatID:   chatID,
		Subject:  subject,
		Snapshot: snapshot,
		Status:   status,
	}); err != nil {
		return snapshot, err
	}
	return snapshot, streamErr
}

// complete performs one blocking provider call under the configured
// deadline.
func (r *Runner) complete(ctx context.Context, prep *assembler.PreparedRequest) (*contract.CompletionResponse, error) {
	if r.cfg.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.ProviderTimeout)
		defer cancel()
	}
	return r.provider.Complete(ctx, prep.Endpoint, prep.Request)
}

// assemble runs one assembly cycle in its own transaction. The
// transaction commits inside Assemble; rollback on the error paths that
// leave it open.
func (r *Runner) assemble(ctx context.Context, subject, chatID string) (*assembler.PreparedRequest, error) {
	tx, err := r.store.Begin(ctx)
	if err != nil {
		return nil, apperrors.Storage("begin assembly transaction", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.SetSecurityContext(ctx, subject); err != nil {
		return nil, apperrors.Unauthorized("establish tenant context", err)
	}
	return r.assembler.Assemble(ctx, tx, subject, chatID)
}

func (r *Runner) persist(ctx context.Context, in sink.Input) error {
	tx, err := r.store.Begin(ctx)
	if err != nil {
		return apperrors.Storage("begin result transaction", err)
	}
	defer tx.Rollback(ctx)

	return r.sink.Persist(ctx, tx, in)
}

func (r *Runner) resolveConversation(ctx context.Context, subject, chatID string) (string, error) {
	tx, err := r.store.Begin(ctx)
	if err != nil {
		return "", apperrors.Storage("begin lookup transaction", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.SetSecurityContext(ctx, subject); err != nil {
		return "", apperrors.Unauthorized("establish tenant context", err)
	}
	conv, err := tx.ConversationForChat(ctx, chatID)
	if err != nil {
		return "", apperrors.Storage("resolve conversation", err)
	}
	return conv.ID, nil
}

// Package stream consumes a provider's server-sent-event stream and
// forwards enriched (delta, running-snapshot) events to a caller-owned
// receiver.
package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

type EventKind int

const (
	// EventText carries one delta and the snapshot accumulated so far.
	EventText EventKind = iota
	// EventEnd is the single terminal event of a finished stream.
	EventEnd
	// EventError surfaces a transport failure when errors are not being
	// rendered into the conversation.
	EventError
)

type Event struct {
	Kind     EventKind
	Delta    string
	Snapshot string
	Err      error
}

const doneMarker = "[DONE]"

type sseChunk struct {
	Choices []struct {
		Delta struct {
			Content *string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Enricher is a single-task SSE consumer. Cancellation is cooperative:
// when the receiver's context is done, sends fail silently and the loop
// stops. There is no timeout in here; callers needing one wrap the
// consuming loop with a deadline.
type Enricher struct {
	// ErrorsToChat renders transport errors as assistant-visible markdown
	// instead of propagating them to the receiver.
	ErrorsToChat bool
}

// Run reads body to completion, sending events on out. It closes out on
// return; it never closes before emitting a terminal event unless the
// receiver went away.
func (e *Enricher) Run(ctx context.Context, body io.ReadCloser, out chan<- Event) {
	defer close(out)
	defer body.Close()

	snapshot := ""
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			// Connection-open and other comment events produce no emission.
			slog.Debug("Ignoring stream event", "line", line)
			continue
		}

		payload := strings.TrimPrefix(line, "data:")
		payload = strings.TrimPrefix(payload, " ")

		if strings.TrimSpace(payload) == doneMarker {
			body.Close()
			e.send(ctx, out, Event{Kind: EventEnd, Delta: doneMarker, Snapshot: snapshot})
			return
		}

		var chunk sseChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			// Consumed but not forwarded.
			slog.Debug("Skipping undecodable stream payload", "error", err)
			continue
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == nil {
			continue
		}

		snapshot += *chunk.Choices[0].Delta.Content
		if !e.send(ctx, out, Event{Kind: EventText, Delta: payload, Snapshot: snapshot}) {
			return
		}
	}

	err := scanner.Err()
	if err == nil {
		err = fmt.Errorf("stream closed before %s", doneMarker)
	}
	e.fail(ctx, out, err, snapshot)
}

// fail reports a transport error. With ErrorsToChat enabled the error is
// rendered as three assistant-visible parts (a human-readable note, the
// error in a code span, its debug form in a code block), each appended
// to the snapshot, followed by a terminal end event.
func (e *Enricher) fail(ctx context.Context, out chan<- Event, err error, snapshot string) {
	if !e.ErrorsToChat {
		e.send(ctx, out, Event{Kind: EventError, Err: err})
		return
	}

	parts := []string{
		"\n\nThere was a problem talking to the model provider.",
		fmt.Sprintf(" The error was `%v`.", err),
		fmt.Sprintf("\n\n```\n%+v\n```\n", err),
	}
	for _, part := range parts {
		snapshot += part
		if !e.send(ctx, out, Event{Kind: EventText, Delta: part, Snapshot: snapshot}) {
			return
		}
	}
	e.send(ctx, out, Event{Kind: EventEnd, Delta: doneMarker, Snapshot: snapshot})
}

func (e *Enricher) send(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		// Receiver is gone; stop forwarding without retry or panic.
		return false
	}
}

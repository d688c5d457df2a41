package stream

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, enricher *Enricher, body string) []Event {
	t.Helper()
	out := make(chan Event, 64)
	enricher.Run(context.Background(), io.NopCloser(strings.NewReader(body)), out)

	events := make([]Event, 0, len(out))
	for ev := range out {
		events = append(events, ev)
	}
	return events
}

func TestRunAccumulatesSnapshot(t *testing.T) {
	body := strings.Join([]string{
		`data: {"choices":[{"delta":{"content":"Hello"}}]}`,
		"",
		`data: {"choices":[{"delta":{"content":" world"}}]}`,
		"",
		"data: [DONE]",
		"",
	}, "\n")

	events := collect(t, &Enricher{}, body)

	require.Len(t, events, 3)
	assert.Equal(t, EventText, events[0].Kind)
	assert.Equal(t, "Hello", events[0].Snapshot)
	assert.Contains(t, events[0].Delta, `"Hello"`)
	assert.Equal(t, "Hello world", events[1].Snapshot)
	assert.Equal(t, EventEnd, events[2].Kind)
	assert.Equal(t, "[DONE]", events[2].Delta)
	assert.Equal(t, "Hello world", events[2].Snapshot)
}

func TestRunDeltaIsRawPayload(t *testing.T) {
	payload := `{"id":"x","choices":[{"delta":{"content":"hi"}}]}`
	events := collect(t, &Enricher{}, "data: "+payload+"\n\ndata: [DONE]\n")

	require.Len(t, events, 2)
	assert.Equal(t, payload, events[0].Delta)
}

func TestRunSkipsCommentsAndUndecodableChunks(t *testing.T) {
	body := strings.Join([]string{
		": connection open",
		"event: ping",
		"data: not json at all",
		`data: {"choices":[]}`,
		`data: {"choices":[{"delta":{}}]}`,
		`data: {"choices":[{"delta":{"content":"ok"}}]}`,
		"data: [DONE]",
	}, "\n")

	events := collect(t, &Enricher{}, body)

	require.Len(t, events, 2)
	assert.Equal(t, "ok", events[0].Snapshot)
	assert.Equal(t, EventEnd, events[1].Kind)
}

func TestRunTruncatedStreamWithoutErrorsToChat(t *testing.T) {
	events := collect(t, &Enricher{}, `data: {"choices":[{"delta":{"content":"partial"}}]}`+"\n")

	require.Len(t, events, 2)
	assert.Equal(t, EventText, events[0].Kind)
	require.Equal(t, EventError, events[1].Kind)
	assert.ErrorContains(t, events[1].Err, "stream closed before [DONE]")
}

func TestRunTruncatedStreamErrorsToChat(t *testing.T) {
	events := collect(t, &Enricher{ErrorsToChat: true}, `data: {"choices":[{"delta":{"content":"partial"}}]}`+"\n")

	// One content event, three error-rendering parts, one end event.
	require.Len(t, events, 5)
	assert.Equal(t, "There", strings.Fields(events[1].Delta)[0])
	assert.Contains(t, events[2].Delta, "The error was `")
	assert.Contains(t, events[3].Delta, "```")
	assert.Equal(t, EventEnd, events[4].Kind)

	// Each part extends the snapshot, so the last snapshot holds the
	// whole rendered message after the streamed prefix.
	final := events[4].Snapshot
	assert.True(t, strings.HasPrefix(final, "partial"))
	assert.Contains(t, final, "There was a problem talking to the model provider.")
	assert.Equal(t, events[3].Snapshot, final)
}

func TestRunStopsWhenReceiverGone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	body := `data: {"choices":[{"delta":{"content":"hi"}}]}` + "\ndata: [DONE]\n"
	out := make(chan Event) // unbuffered, nothing ever receives

	done := make(chan struct{})
	go func() {
		defer close(done)
		(&Enricher{}).Run(ctx, io.NopCloser(strings.NewReader(body)), out)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("enricher did not stop after cancellation")
	}
}

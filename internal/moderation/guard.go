// Package moderation classifies a sanitized message set as safe or
// unsafe using a secondary guard model.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/bionic-gpt/bionic-gpt-sub002/internal/chat"
	"github.com/bionic-gpt/bionic-gpt-sub002/internal/contract"
	apperrors "github.com/bionic-gpt/bionic-gpt-sub002/internal/errors"
)

// RefusalText is the fixed user-facing reply written in place of a
// rejected turn.
const RefusalText = "Your question violated our guidelines"

type Verdict struct {
	Safe bool
	Code chat.FlagCode
}

// Sanitize strips tool payloads before classification: tool calls and
// tool results may be large or binary-ish and would leak irrelevant data
// to the classifier. A message with nothing left after stripping is
// dropped entirely.
func Sanitize(msgs []contract.Message) []contract.Message {
	out := make([]contract.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == string(chat.RoleTool) {
			continue
		}
		m.ToolCalls = nil
		m.ToolCallID = ""
		if m.Content == "" {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Classifier is the verdict surface the assembler depends on.
type Classifier interface {
	Classify(ctx context.Context, guard chat.Model, msgs []contract.Message) (Verdict, error)
}

// Guard talks to an OpenAI-compatible guard model at
// {base_url}/chat/completions with bearer auth when an api key is
// configured.
type Guard struct {
	HTTPClient *http.Client
	// Timeout bounds one classification round trip. Zero means no
	// deadline beyond the caller's context.
	Timeout time.Duration
}

func NewGuard() *Guard {
	return &Guard{}
}

func (g *Guard) Classify(ctx context.Context, guard chat.Model, msgs []contract.Message) (Verdict, error) {
	if g.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}

	cfg := openai.DefaultConfig(guard.APIKey)
	cfg.BaseURL = strings.TrimSuffix(guard.BaseURL, "/")
	if g.HTTPClient != nil {
		cfg.HTTPClient = g.HTTPClient
	}
	client := openai.NewClientWithConfig(cfg)

	req := openai.ChatCompletionRequest{
		Model:    guard.Name,
		Messages: make([]openai.ChatCompletionMessage, 0, len(msgs)),
	}
	for _, m := range msgs {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	resp, err := client.CreateChatCompletion(ctx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return Verdict{}, fmt.Errorf("guard returned http %d: %w", apiErr.HTTPStatusCode, apperrors.ErrModerationTransport)
		}
		return Verdict{}, fmt.Errorf("guard request failed: %v: %w", err, apperrors.ErrModerationTransport)
	}
	if len(resp.Choices) == 0 {
		return Verdict{}, fmt.Errorf("guard returned no choices: %w", apperrors.ErrModerationTransport)
	}

	verdict, err := ParseVerdict(resp.Choices[0].Message.Content)
	if err != nil {
		return Verdict{}, err
	}
	if !verdict.Safe {
		slog.Info("Guard flagged conversation", "code", verdict.Code)
	}
	return verdict, nil
}

// ParseVerdict interprets the classifier's raw reply. A reply starting
// with "safe" (case-insensitive) is safe; otherwise the last
// whitespace-delimited token must be a taxonomy code. Anything else fails
// closed as a transport error; unparseable output is never safe.
func ParseVerdict(raw string) (Verdict, error) {
	content := strings.ToLower(strings.TrimSpace(raw))
	if strings.HasPrefix(content, "safe") {
		return Verdict{Safe: true}, nil
	}

	fields := strings.Fields(content)
	if len(fields) == 0 {
		return Verdict{}, fmt.Errorf("guard returned empty verdict: %w", apperrors.ErrModerationTransport)
	}
	code, ok := chat.ParseFlagCode(fields[len(fields)-1])
	if !ok {
		return Verdict{}, fmt.Errorf("guard returned unparseable verdict %q: %w", raw, apperrors.ErrModerationTransport)
	}
	return Verdict{Safe: false, Code: code}, nil
}

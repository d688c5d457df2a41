// Package provider talks to an OpenAI-compatible model endpoint:
// non-streaming completions through the client library, streaming by
// opening the raw event stream for the enricher.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/bionic-gpt/bionic-gpt-sub002/internal/chat"
	"github.com/bionic-gpt/bionic-gpt-sub002/internal/contract"
	apperrors "github.com/bionic-gpt/bionic-gpt-sub002/internal/errors"
)

type Client struct {
	HTTPClient *http.Client
}

func New() *Client {
	return &Client{}
}

func (c *Client) openaiClient(ep contract.Endpoint) *openai.Client {
	cfg := openai.DefaultConfig(ep.APIKey)
	cfg.BaseURL = strings.TrimSuffix(ep.BaseURL, "/")
	if c.HTTPClient != nil {
		cfg.HTTPClient = c.HTTPClient
	}
	return openai.NewClientWithConfig(cfg)
}

func toWire(req contract.CompletionRequest) openai.ChatCompletionRequest {
	chatReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      req.Stream,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(req.Messages)),
	}

	for _, m := range req.Messages {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		chatReq.Messages = append(chatReq.Messages, msg)
	}

	for _, t := range req.Tools {
		params := t.Parameters
		if params == nil {
			params = map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			}
		}
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}

	return chatReq
}

// Complete performs a blocking chat completion.
func (c *Client) Complete(ctx context.Context, ep contract.Endpoint, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	req.Stream = false
	resp, err := c.openaiClient(ep).CreateChatCompletion(ctx, toWire(req))
	if err != nil {
		return nil, fmt.Errorf("completion request failed: %v: %w", err, apperrors.ErrTransient)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned: %w", apperrors.ErrTransient)
	}

	choice := resp.Choices[0]
	result := &contract.CompletionResponse{Content: choice.Message.Content}
	for i, tc := range choice.Message.ToolCalls {
		id := tc.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", i+1)
		}
		result.ToolCalls = append(result.ToolCalls, chat.ToolCall{
			ID: id,
			Function: chat.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return result, nil
}

// OpenStream issues the streaming request and hands the raw
// text/event-stream body to the caller; the enricher needs the raw event
// payloads the client library would otherwise decode away.
func (c *Client) OpenStream(ctx context.Context, ep contract.Endpoint, req contract.CompletionRequest) (io.ReadCloser, error) {
	req.Stream = true
	b, err := json.Marshal(toWire(req))
	if err != nil {
		return nil, apperrors.Serialization("encode streaming request", err)
	}

	endpoint := strings.TrimSuffix(ep.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if ep.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+ep.APIKey)
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("streaming request failed: %v: %w", err, apperrors.ErrTransient)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		return nil, fmt.Errorf("provider http %d: %s: %w", resp.StatusCode, string(raw), apperrors.ErrTransient)
	}
	return resp.Body, nil
}

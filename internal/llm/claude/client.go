// Package claude implements investigation.Completer on the Anthropic
// Messages API.
package claude

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	systemPrompt = "You are an expert banking fraud analyst."
	maxTokens    = 1000
	temperature  = 0.1
)

// messagesAPI is the subset of the SDK used here; *anthropic.MessageService
// satisfies it.
type messagesAPI interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// Client sends single-turn prompts to Claude.
type Client struct {
	messages messagesAPI
	model    string
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	baseURL string
	timeout time.Duration
}

// WithBaseURL points the client at a different API endpoint.
func WithBaseURL(u string) Option {
	return func(o *clientOptions) { o.baseURL = u }
}

// WithTimeout bounds a single request.
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) { o.timeout = d }
}

// New creates a Claude client. SDK retries are disabled; retry policy lives
// in the reliable wrapper.
func New(apiKey, model string, opts ...Option) *Client {
	co := clientOptions{timeout: 120 * time.Second}
	for _, o := range opts {
		o(&co)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(co.timeout),
	}
	if co.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(co.baseURL))
	}

	client := anthropic.NewClient(reqOpts...)
	return &Client{messages: &client.Messages, model: model}
}

// Complete implements investigation.Completer. The reply is the concatenated
// text blocks of the response.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	msg, err := c.messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   maxTokens,
		System:      []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
		Temperature: anthropic.Float(temperature),
	})
	if err != nil {
		return "", fmt.Errorf("claude messages: %w", err)
	}

	text := replyText(msg)
	if text == "" {
		return "", errors.New("claude returned no text content")
	}
	return text, nil
}

func replyText(msg *anthropic.Message) string {
	if msg == nil {
		return ""
	}
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type != "text" {
			continue
		}
		b.WriteString(block.Text)
	}
	return strings.TrimSpace(b.String())
}

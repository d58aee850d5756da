// Package llm asks a language model for a second-opinion risk tier per bank.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Model completes a single system+user exchange.
type Model interface {
	Name() string
	Complete(ctx context.Context, system, user string) (string, error)
}

// ClaudeModel implements Model with the Anthropic Messages API.
type ClaudeModel struct {
	client    anthropic.Client
	model     string
	maxTokens int
}

// NewClaudeModel creates a ClaudeModel. proxyURL is optional.
func NewClaudeModel(apiKey, model string, maxTokens int, timeout time.Duration, proxyURL string) (*ClaudeModel, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	transport := &http.Transport{}
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(u)
	}
	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Timeout: timeout, Transport: transport}),
		// retries are driven by the Analyzer
		option.WithMaxRetries(0),
	)
	return &ClaudeModel{client: client, model: model, maxTokens: maxTokens}, nil
}

func (m *ClaudeModel) Name() string { return m.model }

// Complete sends one request and returns the concatenated text blocks.
func (m *ClaudeModel) Complete(ctx context.Context, system, user string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(m.model),
		MaxTokens: int64(m.maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("claude messages: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("empty response from claude")
	}
	return text.String(), nil
}

package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

const (
	defaultProxyModel   = "gpt-5-mini"
	defaultProxyTimeout = 60 * time.Second
	maxProxyResponse    = 1 << 20
)

// ProxyConfig points at an OpenAI-compatible chat completion proxy.
type ProxyConfig struct {
	URL   string
	Model string
	// HTTPClient overrides the SSRF-guarded default client.
	HTTPClient *http.Client
}

// ProxyGenerator posts chat completions through a relay that holds the provider key.
type ProxyGenerator struct {
	url    string
	model  string
	client *http.Client
}

// NewProxyGenerator validates cfg and builds the generator.
func NewProxyGenerator(cfg ProxyConfig) (*ProxyGenerator, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("proxy url missing")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultProxyModel
	}
	client := cfg.HTTPClient
	if client == nil {
		client = NewSafeClient(defaultProxyTimeout)
	}
	return &ProxyGenerator{url: url, model: model, client: client}, nil
}

// NewSafeClient returns an HTTP client that refuses private, loopback and metadata addresses.
func NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("http", "https").
		SetAllowedPorts(80, 443).
		Build()
	return safeurl.Client(config).Client
}

// Name identifies the backend in logs.
func (p *ProxyGenerator) Name() string { return "proxy" }

type proxyRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type proxyResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete prepends the system instruction and posts the conversation.
func (p *ProxyGenerator) Complete(ctx context.Context, messages []Message) (string, error) {
	payload := proxyRequest{
		Model:    p.model,
		Messages: append([]Message{{Role: "system", Content: systemInstruction}}, messages...),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode proxy request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build proxy request: %w", err)
	}
	// The relay is an Apps Script web app, which only accepts simple content types.
	req.Header.Set("Content-Type", "text/plain;charset=utf-8")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("proxy request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("proxy network error: %d", resp.StatusCode)
	}

	var decoded proxyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxProxyResponse)).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode proxy response: %w", err)
	}
	if decoded.Error != nil {
		return "", fmt.Errorf("proxy api error: %s", decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	output := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if output == "" {
		return "", ErrEmptyResponse
	}
	return output, nil
}

package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ironwillhq/ironwill/internal/config"
)

const (
	anthropicBaseURL = "https://api.anthropic.com/v1"
	openaiBaseURL    = "https://api.openai.com/v1"

	anthropicVersion = "2023-06-01"
)

// Client turns escalation prompts into intervention messages over a
// provider HTTP API. It speaks the Anthropic messages API by default
// and falls back to OpenAI-style chat completions when the provider
// type says so.
type Client struct {
	providerType string
	apiKey       string
	baseURL      string
	model        string
	httpClient   *http.Client
}

func NewClient(cfg *config.Config) *Client {
	c := &Client{
		providerType: cfg.Provider.Type,
		apiKey:       cfg.Provider.APIKey,
		baseURL:      strings.TrimRight(strings.TrimSpace(cfg.Provider.BaseURL), "/"),
		model:        cfg.Agent.Model,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
	if c.providerType == "" {
		c.providerType = "anthropic"
	}
	if c.baseURL == "" {
		if c.providerType == "openai" {
			c.baseURL = openaiBaseURL
		} else {
			c.baseURL = anthropicBaseURL
		}
	}
	return c
}

// Generate asks the model for a single intervention message. Callers
// treat any error or blank output as a signal to use the deterministic
// fallback, so Generate never invents text of its own.
func (c *Client) Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	if strings.TrimSpace(c.apiKey) == "" {
		return "", fmt.Errorf("missing provider api key")
	}
	if c.model == "" {
		return "", fmt.Errorf("missing model")
	}

	if c.providerType == "openai" {
		return c.chatCompletion(ctx, prompt, maxTokens, temperature)
	}
	return c.anthropicMessage(ctx, prompt, maxTokens, temperature)
}

func (c *Client) anthropicMessage(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	body := map[string]any{
		"model":      c.model,
		"max_tokens": maxTokens,
		"messages": []map[string]string{{
			"role":    "user",
			"content": prompt,
		}},
		"temperature": temperature,
	}

	respBody, err := c.post(ctx, c.baseURL+"/messages", body, func(req *http.Request) {
		req.Header.Set("x-api-key", c.apiKey)
		req.Header.Set("anthropic-version", anthropicVersion)
	})
	if err != nil {
		return "", err
	}

	var decoded struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	var sb strings.Builder
	for _, block := range decoded.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", fmt.Errorf("empty content in response")
	}
	return text, nil
}

func (c *Client) chatCompletion(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	body := map[string]any{
		"model": c.model,
		"messages": []map[string]string{{
			"role":    "user",
			"content": prompt,
		}},
		"max_tokens":  maxTokens,
		"temperature": temperature,
	}

	respBody, err := c.post(ctx, c.baseURL+"/chat/completions", body, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	})
	if err != nil {
		return "", err
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("empty choices in response")
	}
	content := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("empty content in response")
	}
	return content, nil
}

func (c *Client) post(ctx context.Context, url string, body map[string]any, setAuth func(*http.Request)) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("provider http %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return respBody, nil
}

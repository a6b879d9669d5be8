// Package openai provides a brain.Completer for the OpenAI Chat Completions
// API. It speaks plain HTTP so the base URL can point at any
// OpenAI-compatible endpoint.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/germanamz/nexus/pkg/brain"
)

const completionsPath = "/v1/chat/completions"

var _ brain.Completer = (*Adapter)(nil)

// Auth holds authentication settings for the API.
type Auth struct {
	Key    string // API key value.
	Header string // Header name (default: "Authorization").
	Scheme string // Scheme prefix (default: "Bearer" when Header is "Authorization").
}

// Adapter implements brain.Completer for the OpenAI Chat Completions API.
type Adapter struct {
	Model       string
	BaseURL     string // API base URL, no trailing slash.
	Auth        Auth
	MaxTokens   int
	Temperature float64
	Client      *http.Client // Falls back to http.DefaultClient.
}

// New creates an Adapter configured for the OpenAI API. The baseURL should
// be "https://api.openai.com" (no trailing slash).
func New(baseURL, apiKey, model string) *Adapter {
	return &Adapter{
		Model:     model,
		BaseURL:   baseURL,
		Auth:      Auth{Key: apiKey},
		MaxTokens: 4096,
	}
}

// Complete sends a single-message conversation and returns the assistant's
// text reply.
func (a *Adapter) Complete(ctx context.Context, prompt string) (string, error) {
	req := apiRequest{
		Model:     a.Model,
		MaxTokens: a.MaxTokens,
		Messages: []apiMessage{
			{Role: "user", Content: prompt},
		},
	}

	if a.Temperature != 0 {
		t := a.Temperature
		req.Temperature = &t
	}

	var resp apiResponse
	if err := a.postJSON(ctx, completionsPath, req, &resp); err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: empty choices in response")
	}

	if resp.Choices[0].Message.Content == nil {
		return "", nil
	}

	return *resp.Choices[0].Message.Content, nil
}

type apiRequest struct {
	Model       string       `json:"model"`
	Messages    []apiMessage `json:"messages"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature *float64     `json:"temperature,omitempty"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiResponse struct {
	Choices []apiChoice `json:"choices"`
}

type apiChoice struct {
	Message apiRespMessage `json:"message"`
}

type apiRespMessage struct {
	Role    string  `json:"role"`
	Content *string `json:"content"`
}

func (a *Adapter) httpClient() *http.Client {
	if a.Client != nil {
		return a.Client
	}

	return http.DefaultClient
}

// newRequest builds an *http.Request with the base URL and auth applied.
func (a *Adapter) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, a.BaseURL+path, body)
	if err != nil {
		return nil, err
	}

	if a.Auth.Key != "" {
		header := a.Auth.Header
		if header == "" {
			header = "Authorization"
		}

		value := a.Auth.Key
		scheme := a.Auth.Scheme
		if scheme == "" && header == "Authorization" {
			scheme = "Bearer"
		}
		if scheme != "" {
			value = scheme + " " + value
		}

		req.Header.Set(header, value)
	}

	return req, nil
}

// postJSON marshals payload as JSON, POSTs it, checks for a 2xx status, and
// unmarshals the response body into dest.
func (a *Adapter) postJSON(ctx context.Context, path string, payload any, dest any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := a.newRequest(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)

		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

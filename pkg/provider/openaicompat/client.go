package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rhuss/kgquery/pkg/api"
)

// Options tunes a Client beyond its endpoint and credentials.
type Options struct {
	// Model is sent with every request.
	Model string

	// Temperature and MaxTokens are omitted from the request when nil.
	Temperature *float64
	MaxTokens   *int

	// SystemPrompt, when set, is sent as a system message ahead of the prompt.
	SystemPrompt string

	// Headers are added to every request, e.g. gateway keys.
	Headers map[string]string
}

// Client performs HTTP requests against an OpenAI-compatible Chat Completions
// backend.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	opts       Options

	// ModelMapper is an optional function that transforms the model name
	// before sending it to the backend. If nil, the model name is used as-is.
	ModelMapper func(string) string
}

// NewClient creates a new Client for an OpenAI-compatible backend.
func NewClient(baseURL, apiKey string, timeout time.Duration, opts Options) *Client {
	baseURL = strings.TrimRight(baseURL, "/")

	if timeout == 0 {
		timeout = 120 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
		opts:       opts,
	}
}

// Generate sends prompt as a single user message and returns the text of
// the first choice.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	var messages []ChatMessage
	if c.opts.SystemPrompt != "" {
		messages = append(messages, ChatMessage{Role: "system", Content: c.opts.SystemPrompt})
	}
	messages = append(messages, ChatMessage{Role: "user", Content: prompt})

	resp, err := c.Complete(ctx, &ChatCompletionRequest{
		Model:       c.opts.Model,
		Messages:    messages,
		Temperature: c.opts.Temperature,
		MaxTokens:   c.opts.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", api.NewBackendError("backend returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Complete performs one non-streaming Chat Completions call.
func (c *Client) Complete(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	reqCopy := *req
	reqCopy.Stream = false
	reqCopy.N = 1

	if c.ModelMapper != nil {
		reqCopy.Model = c.ModelMapper(reqCopy.Model)
	}

	body, err := json.Marshal(&reqCopy)
	if err != nil {
		return nil, api.NewServerError(fmt.Sprintf("failed to marshal request: %s", err.Error()))
	}

	url := c.baseURL + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, api.NewServerError(fmt.Sprintf("failed to create HTTP request: %s", err.Error()))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.setAuth(httpReq)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, MapNetworkError(err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, MapHTTPError(httpResp)
	}

	var chatResp ChatCompletionResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&chatResp); err != nil {
		return nil, api.NewBackendError(fmt.Sprintf("failed to parse backend response: %s", err.Error()))
	}
	return &chatResp, nil
}

// ListModels queries the /v1/models endpoint. It doubles as a readiness probe.
func (c *Client) ListModels(ctx context.Context) ([]ChatModel, error) {
	url := c.baseURL + "/v1/models"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, api.NewServerError(fmt.Sprintf("failed to create HTTP request: %s", err.Error()))
	}
	c.setAuth(httpReq)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, MapNetworkError(err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, MapHTTPError(httpResp)
	}

	var modelsResp ChatModelsResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&modelsResp); err != nil {
		return nil, api.NewBackendError(fmt.Sprintf("failed to parse models response: %s", err.Error()))
	}
	return modelsResp.Data, nil
}

// Close releases client resources.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) setAuth(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.opts.Headers {
		req.Header.Set(k, v)
	}
}

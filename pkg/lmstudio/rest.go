package lmstudio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxErrorBodySize caps how much of an error response body is read back
// into error messages.
const maxErrorBodySize = 1024 * 1024

// RESTClient talks to the server's OpenAI-compatible REST API. Every call
// takes a context; when the caller sets no deadline, the method applies its
// default timeout from params.go so a stalled server cannot block forever.
type RESTClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     Logger
}

// NewRESTClient creates a REST client for the given base URL
// (scheme://host:port, no trailing slash required).
func NewRESTClient(baseURL string, logger Logger) *RESTClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = NewLogger(LogLevelError)
	}
	return &RESTClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     PlaceholderAPIKey,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// BaseURL returns the base URL this client talks to.
func (c *RESTClient) BaseURL() string {
	return c.baseURL
}

// withDefaultTimeout bounds the context with the given default when the
// caller did not already set a deadline.
func withDefaultTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

// IsReachable reports whether the server answers its models endpoint with
// 200 within the context deadline. Connection errors, timeouts and
// unexpected statuses all collapse to false; the cause is only logged.
func (c *RESTClient) IsReachable(ctx context.Context) bool {
	ctx, cancel := withDefaultTimeout(ctx, HealthCheckTimeoutSec*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+ModelsPath, nil)
	if err != nil {
		c.logger.Debug("Failed to build health request for %s: %v", c.baseURL, err)
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("Failed to connect to %s: %v", c.baseURL, err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Debug("Received unexpected status code %d from %s", resp.StatusCode, c.baseURL)
		return false
	}

	c.logger.Debug("Server at %s is reachable", c.baseURL)
	return true
}

// ListLoadedModels returns the models currently served, in the order the
// server reports them. An empty list is a valid result, not an error.
func (c *RESTClient) ListLoadedModels(ctx context.Context) ([]Model, error) {
	return c.listModels(ctx, ModelsPath)
}

// ListModelsDetailed returns the enhanced model listing, which includes
// state and type metadata for each model.
func (c *RESTClient) ListModelsDetailed(ctx context.Context) ([]Model, error) {
	return c.listModels(ctx, ModelsDetailedPath)
}

func (c *RESTClient) listModels(ctx context.Context, path string) ([]Model, error) {
	ctx, cancel := withDefaultTimeout(ctx, ListModelsTimeoutSec*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build model listing request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("model listing request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := readLimitedBody(resp.Body)
		return nil, fmt.Errorf("model listing returned status %d: %s", resp.StatusCode, body)
	}

	var listing modelListResponse
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("failed to parse model listing: %w", err)
	}

	c.logger.Debug("Server at %s reports %d models via %s", c.baseURL, len(listing.Data), path)
	return listing.Data, nil
}

// ChatCompletion sends one chat completion request and decodes the response.
// A response without choices is treated as an error.
func (c *RESTClient) ChatCompletion(ctx context.Context, chatReq *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	ctx, cancel := withDefaultTimeout(ctx, ValidationTimeoutSec*time.Second)
	defer cancel()

	payload, err := json.Marshal(chatReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+ChatCompletionsPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	c.logger.Debug("Sending chat completion request to %s for model %s", c.baseURL, chatReq.Model)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat completion request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := readLimitedBody(resp.Body)
		return nil, fmt.Errorf("chat completion returned status %d: %s", resp.StatusCode, body)
	}

	var completion ChatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return nil, fmt.Errorf("failed to parse chat completion response: %w", err)
	}

	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	return &completion, nil
}

// ValidateModel confirms the given model actually answers a completion
// request. Returns the completion content on success.
func (c *RESTClient) ValidateModel(ctx context.Context, modelID string) (string, error) {
	chatReq := &ChatCompletionRequest{
		Model: modelID,
		Messages: []ChatMessage{
			{Role: "user", Content: ValidationPrompt},
		},
		MaxTokens:   ValidationMaxTokens,
		Temperature: 0,
	}

	completion, err := c.ChatCompletion(ctx, chatReq)
	if err != nil {
		return "", err
	}

	content := strings.TrimSpace(completion.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("model %s returned an empty completion", modelID)
	}

	c.logger.Debug("Model %s responded to the validation prompt: %s", modelID, content)
	return content, nil
}

// readLimitedBody reads at most maxErrorBodySize bytes for error reporting.
func readLimitedBody(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return fmt.Sprintf("<failed to read body: %v>", err)
	}
	return strings.TrimSpace(string(body))
}

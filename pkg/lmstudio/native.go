package lmstudio

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// NativeClient talks to the LM Studio native websocket API. It covers the
// model lifecycle operations the OpenAI-compatible REST surface does not
// expose: enumerating downloaded models and loading or unloading them.
type NativeClient struct {
	logger      Logger
	apiHost     string
	connections map[string]*namespaceConnection
	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewNativeClient creates a client for the websocket API behind the given
// base URL. The websocket namespaces live on the same host and port as the
// REST API, so the same base URL serves both.
func NewNativeClient(baseURL string, logger Logger) *NativeClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = NewLogger(LogLevelError)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &NativeClient{
		logger:      logger,
		apiHost:     strings.TrimRight(baseURL, "/"),
		connections: make(map[string]*namespaceConnection),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// getConnection gets or creates a connection to a specific namespace
func (c *NativeClient) getConnection(namespace string) (*namespaceConnection, error) {
	c.mu.Lock()
	conn, exists := c.connections[namespace]
	if exists && conn.isConnected() {
		c.mu.Unlock()
		return conn, nil
	}

	conn = &namespaceConnection{
		logger:         c.logger,
		namespace:      namespace,
		nextID:         1,
		pendingCalls:   make(map[int]chan json.RawMessage),
		activeChannels: make(map[int]chan json.RawMessage),
	}
	c.connections[namespace] = conn
	c.mu.Unlock()

	if err := conn.connect(c.apiHost, c.ctx); err != nil {
		return nil, err
	}

	return conn, nil
}

// Close closes all namespace connections
func (c *NativeClient) Close() error {
	c.cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	var lastErr error
	for namespace, conn := range c.connections {
		if err := conn.close(); err != nil {
			lastErr = fmt.Errorf("failed to close %s connection: %w", namespace, err)
			c.logger.Error("Error closing %s connection: %v", namespace, err)
		}
	}

	return lastErr
}

// ListDownloadedModels lists all models downloaded to the LM Studio installation.
func (c *NativeClient) ListDownloadedModels() ([]DownloadedModel, error) {
	conn, err := c.getConnection(SystemAPINamespace)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system namespace: %w", err)
	}

	c.logger.Debug("Sending listDownloadedModels request to system namespace")

	result, err := conn.remoteCall(ModelListDownloadedEndpoint, nil)
	if err != nil {
		return nil, err
	}

	var models []DownloadedModel
	if err := json.Unmarshal(result, &models); err != nil {
		return nil, fmt.Errorf("failed to parse downloaded models response: %w", err)
	}

	return models, nil
}

// checkModelExists verifies that the model is present among the downloaded models
func (c *NativeClient) checkModelExists(modelKey string) error {
	downloaded, err := c.ListDownloadedModels()
	if err != nil {
		return fmt.Errorf("failed to check downloaded models: %w", err)
	}

	for _, model := range downloaded {
		if model.ModelKey == modelKey {
			return nil
		}
	}

	return fmt.Errorf("model %s not found in downloaded models", modelKey)
}

// LoadModel loads a downloaded model into memory. The progress callback, if
// not nil, receives fractional progress updates between 0 and 1.
func (c *NativeClient) LoadModel(modelKey string, progressFn func(float64)) error {
	if err := c.checkModelExists(modelKey); err != nil {
		return err
	}

	conn, err := c.getConnection(LLMNamespace)
	if err != nil {
		return fmt.Errorf("failed to connect to llm namespace: %w", err)
	}

	c.logger.Debug("Loading model %s (timeout: %d seconds)", modelKey, ModelLoadTimeoutSec)

	channel, err := openLoadChannel(conn, modelKey, progressFn)
	if err != nil {
		return fmt.Errorf("failed to start model load: %w", err)
	}
	defer channel.close()

	identifier, err := channel.wait(ModelLoadTimeoutSec * time.Second)
	if err != nil {
		return err
	}

	c.logger.Debug("Model %s loaded with identifier %s", modelKey, identifier)
	return nil
}

// UnloadModel unloads a loaded model by its identifier.
func (c *NativeClient) UnloadModel(identifier string) error {
	conn, err := c.getConnection(LLMNamespace)
	if err != nil {
		return fmt.Errorf("failed to connect to llm namespace: %w", err)
	}

	params := map[string]interface{}{
		"identifier": identifier,
	}

	c.logger.Debug("Sending unloadModel request for model: %s", identifier)

	if _, err := conn.remoteCall(ModelUnloadEndpoint, params); err != nil {
		return err
	}

	c.logger.Debug("Successfully unloaded model: %s", identifier)
	return nil
}

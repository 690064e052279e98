package lmstudio

// Model describes one model as reported by the server's REST listing
// endpoints. The plain listing only fills ID; the enhanced listing adds
// the metadata fields.
type Model struct {
	ID                string `json:"id"`
	Object            string `json:"object,omitempty"`
	Type              string `json:"type,omitempty"`  // llm, vlm or embeddings
	State             string `json:"state,omitempty"` // loaded or not-loaded
	Publisher         string `json:"publisher,omitempty"`
	Arch              string `json:"arch,omitempty"`
	Quantization      string `json:"quantization,omitempty"`
	CompatibilityType string `json:"compatibility_type,omitempty"`
	MaxContextLength  int    `json:"max_context_length,omitempty"`
}

// modelListResponse is the wire shape of the listing endpoints.
type modelListResponse struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

// DownloadedModel describes one model as reported by the native websocket
// API. Field names differ from the REST surface, so this is a separate type.
type DownloadedModel struct {
	ModelKey         string `json:"modelKey"`
	Path             string `json:"path"`
	Type             string `json:"type"`
	Format           string `json:"format,omitempty"`
	SizeBytes        int64  `json:"sizeBytes,omitempty"`
	MaxContextLength int    `json:"maxContextLength,omitempty"`
	DisplayName      string `json:"displayName,omitempty"`
	Architecture     string `json:"architecture,omitempty"`
	Vision           bool   `json:"vision,omitempty"`
}

// ChatMessage is a single message in a chat completion exchange.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionRequest is the request body for the chat completion endpoint.
type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream,omitempty"`
}

// ChatCompletionChoice is one generated completion.
type ChatCompletionChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason,omitempty"`
}

// ChatUsage reports token accounting for a completion.
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletionResponse is the response body of the chat completion endpoint.
type ChatCompletionResponse struct {
	ID      string                 `json:"id,omitempty"`
	Object  string                 `json:"object,omitempty"`
	Created int64                  `json:"created,omitempty"`
	Model   string                 `json:"model,omitempty"`
	Choices []ChatCompletionChoice `json:"choices"`
	Usage   *ChatUsage             `json:"usage,omitempty"`
}

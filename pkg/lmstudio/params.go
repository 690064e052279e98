package lmstudio

var (
	LMStudioAPIHosts = []string{"localhost", "127.0.0.1", "0.0.0.0"}
	LMStudioAPIPorts = []int{1234, 12345}

	// DiagnosticPorts are the ports commonly used by local model servers,
	// scanned by the diagnostics routine.
	DiagnosticPorts = []int{1234, 1235, 8080, 8000, 3000, 5000, 11434}
)

const (
	LMStudioClaudeVersion = "1.1.0"

	DefaultBaseURL = "http://localhost:1234"

	ModelsPath          = "/v1/models"          // OpenAI-compatible listing, doubles as the liveness path
	ModelsDetailedPath  = "/api/v0/models"      // Enhanced listing with state/type metadata
	ChatCompletionsPath = "/v1/chat/completions"

	// The local server accepts any bearer token; this is the placeholder
	// it is conventionally called with.
	PlaceholderAPIKey = "lm-studio"

	HealthCheckTimeoutSec = 5
	ListModelsTimeoutSec  = 10
	ValidationTimeoutSec  = 30
	PortProbeTimeoutSec   = 2

	ValidationPrompt    = "Hello, respond with just 'OK' if you're working."
	ValidationMaxTokens = 10
	ExerciseMaxTokens   = 5

	EnvBaseURL = "LM_STUDIO_BASE_URL"
	EnvModel   = "LM_STUDIO_MODEL"

	LMStudioWsAPITimeoutSec     = 30
	ModelLoadTimeoutSec         = 120
	MaxConnectionRetries        = 3
	ConnectionRetryDelaySec     = 2
	SystemAPINamespace          = "system"
	LLMNamespace                = "llm"
	ModelLoadEndpoint           = "loadModel"            // Endpoint for loading a model
	ModelUnloadEndpoint         = "unloadModel"          // Endpoint for unloading a model
	ModelListDownloadedEndpoint = "listDownloadedModels" // Endpoint for listing downloaded models
)

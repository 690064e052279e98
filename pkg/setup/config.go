package setup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hypernetix/lmstudio-claude/pkg/lmstudio"
)

// integrationServerName is the key Claude's MCP loader looks the server up under.
const integrationServerName = "lmstudio"

// mcpServerScript is the companion server shipped alongside the binary.
const mcpServerScript = "lm_studio_mcp_server.py"

// ServerConfig is one MCP server entry in the integration config.
type ServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env"`
}

// IntegrationConfig maps server names to their launch configuration.
type IntegrationConfig map[string]ServerConfig

// DefaultConfigPath returns the integration config location, ~/.claude/mcp.json.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".claude", "mcp.json"), nil
}

// DefaultServerCommand returns the launch command for the companion MCP
// server script, resolved next to the running binary.
func DefaultServerCommand() (string, []string) {
	exe, err := os.Executable()
	if err != nil {
		return "python3", []string{mcpServerScript}
	}
	return "python3", []string{filepath.Join(filepath.Dir(exe), mcpServerScript)}
}

// BuildIntegrationConfig assembles the config document pointing the MCP
// server at the chosen endpoint and model.
func BuildIntegrationConfig(command string, args []string, baseURL, modelID string) IntegrationConfig {
	if args == nil {
		args = []string{}
	}
	return IntegrationConfig{
		integrationServerName: {
			Command: command,
			Args:    args,
			Env: map[string]string{
				lmstudio.EnvBaseURL: baseURL,
				lmstudio.EnvModel:   modelID,
			},
		},
	}
}

// WriteIntegrationConfig writes the config document to path, replacing any
// existing file. Parent directories are created as needed.
func WriteIntegrationConfig(cfg IntegrationConfig, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfigWrite, err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigWrite, err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigWrite, err)
	}

	return nil
}

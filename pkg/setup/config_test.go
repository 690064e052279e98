package setup

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/hypernetix/lmstudio-claude/pkg/lmstudio"
)

func TestBuildIntegrationConfig(t *testing.T) {
	cfg := BuildIntegrationConfig(
		"python3",
		[]string{"/opt/lms/lm_studio_mcp_server.py"},
		"http://localhost:1234",
		"qwen2.5-7b-instruct",
	)

	entry, ok := cfg["lmstudio"]
	if !ok {
		t.Fatalf("Config missing the lmstudio entry: %+v", cfg)
	}

	if entry.Command != "python3" {
		t.Errorf("Command = %q, want python3", entry.Command)
	}
	if len(entry.Args) != 1 || entry.Args[0] != "/opt/lms/lm_studio_mcp_server.py" {
		t.Errorf("Args = %v, want the server script path", entry.Args)
	}
	if entry.Env[lmstudio.EnvBaseURL] != "http://localhost:1234" {
		t.Errorf("Env[%s] = %q, want the base URL", lmstudio.EnvBaseURL, entry.Env[lmstudio.EnvBaseURL])
	}
	if entry.Env[lmstudio.EnvModel] != "qwen2.5-7b-instruct" {
		t.Errorf("Env[%s] = %q, want the model ID", lmstudio.EnvModel, entry.Env[lmstudio.EnvModel])
	}
}

func TestWriteIntegrationConfig(t *testing.T) {
	cfg := BuildIntegrationConfig("python3", []string{"server.py"}, "http://localhost:1234", "model-a")

	// The parent directory does not exist yet
	path := filepath.Join(t.TempDir(), ".claude", "mcp.json")

	if err := WriteIntegrationConfig(cfg, path); err != nil {
		t.Fatalf("WriteIntegrationConfig() unexpected error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read written config: %v", err)
	}

	var decoded IntegrationConfig
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Written config is not valid JSON: %v", err)
	}
	if decoded["lmstudio"].Env[lmstudio.EnvModel] != "model-a" {
		t.Errorf("Round-tripped config lost the model: %+v", decoded)
	}

	// Two-space indentation, as the MCP loader expects human-editable files
	if !bytes.Contains(data, []byte("\n  \"lmstudio\"")) {
		t.Errorf("Config not indented with two spaces:\n%s", data)
	}
}

func TestWriteIntegrationConfigIdempotent(t *testing.T) {
	cfg := BuildIntegrationConfig("python3", []string{"server.py"}, "http://localhost:1234", "model-a")
	path := filepath.Join(t.TempDir(), "mcp.json")

	if err := WriteIntegrationConfig(cfg, path); err != nil {
		t.Fatalf("First write failed: %v", err)
	}
	first, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read config: %v", err)
	}

	if err := WriteIntegrationConfig(cfg, path); err != nil {
		t.Fatalf("Second write failed: %v", err)
	}
	second, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read config: %v", err)
	}

	if !bytes.Equal(first, second) {
		t.Errorf("Repeated writes produced different bytes:\n%s\nvs\n%s", first, second)
	}
}

func TestWriteIntegrationConfigOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp.json")

	// Pre-existing file with unrelated content
	if err := os.WriteFile(path, []byte(`{"other-server": {"command": "node"}}`), 0644); err != nil {
		t.Fatalf("Failed to seed config: %v", err)
	}

	cfg := BuildIntegrationConfig("python3", []string{"server.py"}, "http://localhost:1234", "model-b")
	if err := WriteIntegrationConfig(cfg, path); err != nil {
		t.Fatalf("WriteIntegrationConfig() unexpected error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read config: %v", err)
	}

	var decoded IntegrationConfig
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Written config is not valid JSON: %v", err)
	}

	if _, stale := decoded["other-server"]; stale {
		t.Error("Previous config content survived the overwrite")
	}
	if decoded["lmstudio"].Env[lmstudio.EnvModel] != "model-b" {
		t.Errorf("Config missing the new model: %+v", decoded)
	}
}

func TestDefaultServerCommand(t *testing.T) {
	command, args := DefaultServerCommand()
	if command != "python3" {
		t.Errorf("DefaultServerCommand() command = %q, want python3", command)
	}
	if len(args) != 1 || filepath.Base(args[0]) != "lm_studio_mcp_server.py" {
		t.Errorf("DefaultServerCommand() args = %v, want the companion script", args)
	}
}

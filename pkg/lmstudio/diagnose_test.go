package lmstudio

import (
	"context"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestDetectWSLFrom(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected bool
	}{
		{
			name:     "WSL kernel banner",
			content:  "Linux version 5.15.90.1-microsoft-standard-WSL2 (oe-user@oe-host)",
			expected: true,
		},
		{
			name:     "regular kernel banner",
			content:  "Linux version 6.1.0-13-amd64 (debian-kernel@lists.debian.org)",
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "version")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatalf("Failed to write version file: %v", err)
			}
			if got := detectWSLFrom(path); got != tt.expected {
				t.Errorf("detectWSLFrom() = %v, want %v", got, tt.expected)
			}
		})
	}

	t.Run("missing file", func(t *testing.T) {
		if detectWSLFrom(filepath.Join(t.TempDir(), "does-not-exist")) {
			t.Error("detectWSLFrom() = true for a missing file, want false")
		}
	})
}

func TestIsPortOpen(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to open listener: %v", err)
	}
	defer listener.Close()

	openPort := listener.Addr().(*net.TCPAddr).Port

	closedListener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to open listener: %v", err)
	}
	closedPort := closedListener.Addr().(*net.TCPAddr).Port
	closedListener.Close()

	if !isPortOpen("127.0.0.1", openPort, time.Second) {
		t.Errorf("isPortOpen(%d) = false for a listening port, want true", openPort)
	}
	if isPortOpen("127.0.0.1", closedPort, time.Second) {
		t.Errorf("isPortOpen(%d) = true for a closed port, want false", closedPort)
	}
}

func TestRunDiagnostics(t *testing.T) {
	server := newModelListServer(t, []Model{{ID: "test-model"}})
	defer server.Close()

	parsed, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("Failed to parse test server URL: %v", err)
	}
	_, portStr, err := net.SplitHostPort(parsed.Host)
	if err != nil {
		t.Fatalf("Failed to split test server address: %v", err)
	}
	serverPort, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("Failed to parse test server port: %v", err)
	}

	closedListener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to open listener: %v", err)
	}
	closedPort := closedListener.Addr().(*net.TCPAddr).Port
	closedListener.Close()

	savedPorts := DiagnosticPorts
	DiagnosticPorts = []int{serverPort, closedPort}
	defer func() { DiagnosticPorts = savedPorts }()

	logger := NewLogger(LogLevelError)

	t.Run("healthy endpoint", func(t *testing.T) {
		client := NewRESTClient(server.URL, logger)
		report := RunDiagnostics(context.Background(), client, logger)

		if !report.Reachable {
			t.Error("Reachable = false for a healthy endpoint, want true")
		}
		if hints := report.Guidance(); len(hints) != 0 {
			t.Errorf("Guidance() = %v for a healthy endpoint, want none", hints)
		}
	})

	t.Run("unreachable endpoint with an alternative port", func(t *testing.T) {
		client := NewRESTClient("http://localhost:"+strconv.Itoa(closedPort), logger)
		report := RunDiagnostics(context.Background(), client, logger)

		if report.Reachable {
			t.Error("Reachable = true for a closed port, want false")
		}

		want := "http://localhost:" + strconv.Itoa(serverPort)
		if got := report.SuggestedBaseURL(); got != want {
			t.Errorf("SuggestedBaseURL() = %q, want %q", got, want)
		}

		for _, probe := range report.Ports {
			if probe.Port != serverPort {
				continue
			}
			if !probe.LMStudio {
				t.Errorf("Port %d not recognized as an LM Studio API", probe.Port)
			}
			if probe.Models != 1 {
				t.Errorf("Models = %d for port %d, want 1", probe.Models, probe.Port)
			}
		}

		hints := report.Guidance()
		if len(hints) == 0 {
			t.Fatal("Guidance() returned no hints for an unreachable endpoint")
		}
		joined := strings.Join(hints, "\n")
		if !strings.Contains(joined, want) {
			t.Errorf("Guidance() = %v, want a hint mentioning %s", hints, want)
		}
	})
}

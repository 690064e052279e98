package lmstudio

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

const procVersionPath = "/proc/version"

// PortProbe describes the outcome of probing a single local port.
type PortProbe struct {
	Port     int  `json:"port"`
	Open     bool `json:"open"`
	LMStudio bool `json:"lmstudio"`
	Models   int  `json:"models"`
}

// DiagnosticsReport collects everything the diagnostics pass learned about
// the local environment. It is informational only.
type DiagnosticsReport struct {
	BaseURL    string      `json:"base_url"`
	Reachable  bool        `json:"reachable"`
	Ports      []PortProbe `json:"ports"`
	Discovered string      `json:"discovered,omitempty"`
	WSL        bool        `json:"wsl"`
}

// RunDiagnostics checks the configured endpoint first, scans the ports
// LM Studio and similar local servers commonly listen on, and falls back to
// discovery across the local network interfaces when nothing answers locally.
func RunDiagnostics(ctx context.Context, client *RESTClient, logger Logger) *DiagnosticsReport {
	if logger == nil {
		logger = NewLogger(LogLevelInfo)
	}

	report := &DiagnosticsReport{
		BaseURL: client.BaseURL(),
		WSL:     detectWSLFrom(procVersionPath),
	}

	logger.Debug("Checking configured endpoint %s", report.BaseURL)
	report.Reachable = client.IsReachable(ctx)

	timeout := time.Duration(PortProbeTimeoutSec) * time.Second
	for _, port := range DiagnosticPorts {
		probe := PortProbe{Port: port}
		probe.Open = isPortOpen("localhost", port, timeout)
		if probe.Open {
			alt := NewRESTClient(fmt.Sprintf("http://localhost:%d", port), logger)
			probeCtx, cancel := context.WithTimeout(ctx, timeout)
			if models, err := alt.ListLoadedModels(probeCtx); err == nil {
				probe.LMStudio = true
				probe.Models = len(models)
			}
			cancel()
		}
		logger.Debug("Port %d: open=%v lmstudio=%v models=%d", probe.Port, probe.Open, probe.LMStudio, probe.Models)
		report.Ports = append(report.Ports, probe)
	}

	if !report.Reachable && report.SuggestedBaseURL() == "" {
		if discovered, err := DiscoverServer("", 0, logger); err == nil {
			report.Discovered = discovered
		} else {
			logger.Debug("Network discovery found nothing: %v", err)
		}
	}

	return report
}

// SuggestedBaseURL returns the base URL of the first port that answered the
// LM Studio API, or an empty string if none did.
func (r *DiagnosticsReport) SuggestedBaseURL() string {
	for _, probe := range r.Ports {
		if probe.LMStudio {
			return fmt.Sprintf("http://localhost:%d", probe.Port)
		}
	}
	return ""
}

// Guidance translates the report into hints for the user. The list is empty
// when the configured endpoint is healthy.
func (r *DiagnosticsReport) Guidance() []string {
	hints := []string{}

	if r.Reachable {
		return hints
	}

	hints = append(hints, fmt.Sprintf("No LM Studio server answered at %s", r.BaseURL))

	foundAlternative := false
	for _, probe := range r.Ports {
		if probe.LMStudio {
			foundAlternative = true
			if probe.Models == 0 {
				hints = append(hints, fmt.Sprintf("An LM Studio compatible API is answering at http://localhost:%d but it has no models loaded", probe.Port))
			} else {
				hints = append(hints, fmt.Sprintf("An LM Studio compatible API is answering at http://localhost:%d with %d model(s) loaded", probe.Port, probe.Models))
			}
		} else if probe.Open {
			hints = append(hints, fmt.Sprintf("Port %d is open but does not answer the LM Studio API, another application may be using it", probe.Port))
		}
	}

	if r.Discovered != "" {
		hints = append(hints, fmt.Sprintf("An LM Studio server is answering at %s on the local network", r.Discovered))
		foundAlternative = true
	}

	if !foundAlternative {
		hints = append(hints, "Start LM Studio, open the Developer tab and start the local server")
		hints = append(hints, "Make sure at least one model is loaded")
	}

	if r.WSL {
		hints = append(hints, "Running under WSL: enable 'Serve on Local Network' in LM Studio on the Windows side so the server is reachable from here")
	}

	return hints
}

// isPortOpen dials the port with a short timeout to see if anything listens there.
func isPortOpen(host string, port int, timeout time.Duration) bool {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func detectWSLFrom(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(data)), "microsoft")
}

package lmstudio

import (
	"fmt"
	"net"
	"net/http"
	"time"
)

func generateProbeURLs(hosts []string, ports []int) (urls []string) {

	protocols := []string{"http", "https"}

	if len(hosts) == 0 || hosts[0] == "" {
		hosts = LMStudioAPIHosts
	}

	if len(ports) == 0 || ports[0] == 0 {
		ports = LMStudioAPIPorts
	}

	for _, proto := range protocols {
		for _, host := range hosts {
			for _, port := range ports {
				urls = append(urls, fmt.Sprintf("%s://%s:%d", proto, host, port))
			}
		}
	}
	return urls
}

// DiscoverServer attempts to discover an LM Studio server reachable from this machine.
// It first checks localhost, and if nothing answers there it scans the addresses of
// the local network interfaces. Returns the base URL of the first server that
// responds, or an error if none was found.
func DiscoverServer(host string, port int, logger Logger) (discoveredURL string, err error) {

	if logger == nil {
		logger = NewLogger(LogLevelInfo)
	}

	logger.Debug("Attempting to discover LM Studio server...")

	localhostURLs := generateProbeURLs([]string{host}, []int{port})

	for _, url := range localhostURLs {
		logger.Debug("Checking if LM Studio server is running at %s", url)
		if isServerRunning(url, logger) {
			logger.Debug("LM Studio server found at %s", url)
			return url, nil
		}
	}

	// If not found on localhost, check all network interfaces
	netAddrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", fmt.Errorf("failed to get network interfaces: %w", err)
	}

	ipaddrs := []string{}

	for _, netAddr := range netAddrs {
		if ipnet, ok := netAddr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
			// Found a non-loopback IPv4 address
			ipAddr := ipnet.IP.String()
			ipaddrs = append(ipaddrs, ipAddr)
		}
	}

	networkURLs := generateProbeURLs(ipaddrs, []int{port})

	for _, url := range networkURLs {
		logger.Debug("Checking if LM Studio server is running at %s", url)
		if isServerRunning(url, logger) {
			logger.Info("LM Studio server found at %s", url)
			return url, nil
		}
	}

	return "", fmt.Errorf("no LM Studio server found on the local network")
}

// isServerRunning checks if an LM Studio server is answering at the given base URL
func isServerRunning(url string, logger Logger) bool {
	client := &http.Client{
		Timeout: time.Duration(PortProbeTimeoutSec) * time.Second,
	}

	url += ModelsPath

	// The models endpoint is available whenever the server is up
	resp, err := client.Get(url)

	if err != nil {
		logger.Debug("Failed to connect to %s: %v", url, err)
		return false
	}

	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		logger.Debug("Successfully connected to LM Studio server at %s", url)
		return true
	}

	logger.Debug("Received unexpected status code %d from %s", resp.StatusCode, url)
	return false
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/hypernetix/lmstudio-claude/pkg/lmstudio"
	"github.com/hypernetix/lmstudio-claude/pkg/setup"
)

// coverageFile is set at build time via -ldflags for instrumented builds
var coverageFile string

// formatSize formats file size in a human-readable format
func formatSize(size int64) string {
	if size == 0 {
		return "N/A"
	}

	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}

// formatMaxContext formats max context length in human-readable format
func formatMaxContext(maxContext int) string {
	if maxContext == 0 {
		return "N/A"
	}
	if maxContext >= 1000 {
		return fmt.Sprintf("%dk", maxContext/1000)
	}
	return fmt.Sprintf("%d", maxContext)
}

// printTableHeader prints a table header with specified column widths
func printTableHeader(columns []string, widths []int) {
	for i, col := range columns {
		fmt.Printf("%-*s", widths[i], col)
		if i < len(columns)-1 {
			fmt.Printf(" | ")
		}
	}
	fmt.Println()

	for i, width := range widths {
		for j := 0; j < width; j++ {
			fmt.Print("-")
		}
		if i < len(widths)-1 {
			fmt.Print("-+-")
		}
	}
	fmt.Println()
}

// truncateString truncates a string if it's longer than maxLen and adds "..."
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// printLoadedModels prints the models the server reports in a table or as JSON
func printLoadedModels(models []lmstudio.Model, jsonOutput bool) {
	if jsonOutput {
		jsonData, err := json.MarshalIndent(models, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error marshalling to JSON: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(jsonData))
		return
	}

	fmt.Printf("\nLoaded Models:\n")
	if len(models) == 0 {
		fmt.Println("No loaded models found")
		return
	}

	longestModelName := 0
	for _, model := range models {
		if len(model.ID) > longestModelName {
			longestModelName = len(model.ID)
		}
	}
	longestModelName = max(longestModelName, 15) + 2

	columns := []string{"Name", "Type", "State", "Publisher", "Context"}
	widths := []int{longestModelName, 12, 12, 20, 10}

	printTableHeader(columns, widths)

	for _, model := range models {
		modelType := model.Type
		if modelType == "" {
			modelType = "N/A"
		}
		state := model.State
		if state == "" {
			state = "loaded"
		}
		publisher := model.Publisher
		if publisher == "" {
			publisher = "N/A"
		}

		fmt.Printf("%-*s | %-12s | %-12s | %-20s | %-10s\n",
			longestModelName,
			truncateString(model.ID, longestModelName),
			truncateString(modelType, 12),
			truncateString(state, 12),
			truncateString(publisher, 20),
			formatMaxContext(model.MaxContextLength))
	}
}

// printDownloadedModels prints the on-disk model catalog in a table or as JSON
func printDownloadedModels(models []lmstudio.DownloadedModel, jsonOutput bool) {
	if jsonOutput {
		jsonData, err := json.MarshalIndent(models, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error marshalling to JSON: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(jsonData))
		return
	}

	fmt.Printf("\nDownloaded Models:\n")
	if len(models) == 0 {
		fmt.Println("No downloaded models found")
		return
	}

	longestModelName := 0
	for _, model := range models {
		if len(model.ModelKey) > longestModelName {
			longestModelName = len(model.ModelKey)
		}
	}
	longestModelName = max(longestModelName, 15) + 2

	columns := []string{"Name", "Type", "Format", "Size", "Context", "Path"}
	widths := []int{longestModelName, 12, 10, 10, 10, 50}

	printTableHeader(columns, widths)

	for _, model := range models {
		modelType := model.Type
		if modelType == "" {
			modelType = "N/A"
		}
		format := model.Format
		if format == "" {
			format = "N/A"
		}

		fmt.Printf("%-*s | %-12s | %-10s | %-10s | %-10s | %-50s\n",
			longestModelName,
			truncateString(model.ModelKey, longestModelName),
			truncateString(modelType, 12),
			truncateString(format, 10),
			formatSize(model.SizeBytes),
			formatMaxContext(model.MaxContextLength),
			truncateString(model.Path, 50))
	}
}

// printDiagnostics renders the diagnostics report for humans or as JSON
func printDiagnostics(report *lmstudio.DiagnosticsReport, jsonOutput bool) {
	if jsonOutput {
		jsonData, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error marshalling to JSON: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(jsonData))
		return
	}

	if report.Reachable {
		fmt.Printf("✓ LM Studio is answering at %s\n", report.BaseURL)
	} else {
		fmt.Printf("✗ No LM Studio server at %s\n", report.BaseURL)
	}

	fmt.Println("\nPort scan:")
	for _, probe := range report.Ports {
		switch {
		case probe.LMStudio:
			fmt.Printf("  %5d  open, LM Studio API, %d model(s) loaded\n", probe.Port, probe.Models)
		case probe.Open:
			fmt.Printf("  %5d  open, not LM Studio\n", probe.Port)
		default:
			fmt.Printf("  %5d  closed\n", probe.Port)
		}
	}

	if report.WSL {
		fmt.Println("\nEnvironment: WSL")
	}

	for _, hint := range report.Guidance() {
		fmt.Printf("\n%s\n", hint)
	}
}

// printExerciseResults renders the per-model probe outcomes and returns the failure count
func printExerciseResults(results []lmstudio.ExerciseResult) int {
	failed := 0

	fmt.Printf("\nModel check results:\n")
	for _, result := range results {
		switch {
		case result.Skipped:
			fmt.Printf("  - %s: skipped (embedding model)\n", result.ModelID)
		case result.OK:
			fmt.Printf("  ✓ %s: %q in %.1fs\n", result.ModelID, result.Response, result.Elapsed.Seconds())
		default:
			failed++
			fmt.Printf("  ✗ %s: %v\n", result.ModelID, result.Err)
		}
	}

	return failed
}

// displayProgressBar shows a progress bar for model loading
func displayProgressBar(progress float64) {
	const barWidth = 50
	percentage := progress * 100

	filled := int(progress * float64(barWidth))

	bar := make([]rune, barWidth)
	for i := 0; i < barWidth; i++ {
		if i < filled {
			bar[i] = '█'
		} else {
			bar[i] = '░'
		}
	}

	fmt.Printf("\r: [%s] %.2f%%", string(bar), percentage)
	os.Stdout.Sync()
}

// resolveBaseURL picks the server base URL from the flag, the environment or
// the built-in default, in that order.
func resolveBaseURL(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv(lmstudio.EnvBaseURL); env != "" {
		return env
	}
	return lmstudio.DefaultBaseURL
}

// resolveModelOverride picks the model override from the flag or the environment.
func resolveModelOverride(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv(lmstudio.EnvModel)
}

func printUsage() {
	fmt.Println("LM Studio configurator for Claude")
	fmt.Println("\nRunning without flags checks the LM Studio server, picks a loaded model")
	fmt.Println("and writes the Claude MCP configuration.")
	fmt.Println("\nUsage:")
	flag.PrintDefaults()
	fmt.Println("\nExamples:")
	fmt.Println("  Configure Claude against the default endpoint:")
	fmt.Println("     lms-claude")
	fmt.Println("\n  Configure a specific model without prompting:")
	fmt.Println("     --model=qwen2.5-7b-instruct")
	fmt.Println("\n  Configure against a remote server:")
	fmt.Println("     --base-url=http://192.168.1.100:1234")
	fmt.Println("\n  Check whether the server is running:")
	fmt.Println("     --status")
	fmt.Println("\n  Troubleshoot a server that is not answering:")
	fmt.Println("     --diagnose")
	fmt.Println("\n  Send a test completion to every loaded model:")
	fmt.Println("     --test-models")
	fmt.Println("\n  List loaded and downloaded models:")
	fmt.Println("     --list-loaded")
	fmt.Println("     --list-downloaded")
	fmt.Println("\n  Load or unload a model:")
	fmt.Println("     --load=mistral-7b-instruct")
	fmt.Println("     --unload=mistral-7b-instruct")
	fmt.Println("\n  Verbose logging (debug level):")
	fmt.Println("     -v")
	fmt.Println("\n  Very verbose logging (trace level):")
	fmt.Println("     -vv")
}

func main() {
	if coverageFile != "" {
		fmt.Printf("Running with code coverage. Data will be written to: %s\n", coverageFile)
	}

	baseURLFlag := flag.String("base-url", "", fmt.Sprintf("LM Studio server base URL (default: %s)", lmstudio.DefaultBaseURL))
	modelFlag := flag.String("model", "", "Configure this model without prompting")
	configPath := flag.String("config", "", "Integration config path (default: ~/.claude/mcp.json)")
	serverCommand := flag.String("server-command", "", "Command that launches the MCP server (default: python3)")
	serverScript := flag.String("server-script", "", "Path to the MCP server script (default: next to this binary)")
	checkStatus := flag.Bool("status", false, "Check if the LM Studio server is running")
	diagnose := flag.Bool("diagnose", false, "Probe common ports and print troubleshooting hints")
	testModels := flag.Bool("test-models", false, "Send a test completion to every loaded model")
	listLoaded := flag.Bool("list-loaded", false, "List all loaded models")
	listDownloaded := flag.Bool("list-downloaded", false, "List all downloaded models")
	loadModel := flag.String("load", "", "Load a model by key")
	unloadModel := flag.String("unload", "", "Unload a model by identifier")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	trace := flag.Bool("vv", false, "Enable trace logging")
	showVersion := flag.Bool("version", false, "Show version information")
	jsonOutput := flag.Bool("json", false, "Output list commands in JSON format")

	flag.Usage = printUsage
	flag.Parse()

	logger := lmstudio.NewLogger(lmstudio.LogLevelInfo)
	if *verbose {
		logger.SetLevel(lmstudio.LogLevelDebug)
	}
	if *trace {
		logger.SetLevel(lmstudio.LogLevelTrace)
	}

	// Environment overrides may live in a .env next to the working directory
	if err := godotenv.Load(); err == nil {
		logger.Debug("Loaded environment overrides from .env")
	}

	if *showVersion {
		fmt.Printf("lms-claude version: %s\n", lmstudio.LMStudioClaudeVersion)
		os.Exit(0)
	}

	baseURL := resolveBaseURL(*baseURLFlag)
	restClient := lmstudio.NewRESTClient(baseURL, logger)
	ctx := context.Background()

	var operation bool

	if *checkStatus {
		operation = true
		statusCtx, cancel := context.WithTimeout(ctx, lmstudio.HealthCheckTimeoutSec*time.Second)
		reachable := restClient.IsReachable(statusCtx)
		cancel()

		loadedCount := 0
		if reachable {
			if models, err := restClient.ListLoadedModels(ctx); err == nil {
				loadedCount = len(models)
			}
		}

		if *jsonOutput {
			status := struct {
				BaseURL      string `json:"base_url"`
				Running      bool   `json:"running"`
				LoadedModels int    `json:"loaded_models"`
			}{BaseURL: baseURL, Running: reachable, LoadedModels: loadedCount}

			jsonData, err := json.MarshalIndent(status, "", "  ")
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error marshalling to JSON: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(string(jsonData))
		} else if reachable {
			fmt.Printf("LM Studio server status: RUNNING @ %s\n", baseURL)
			fmt.Printf("Loaded models: %d\n", loadedCount)
		} else {
			fmt.Printf("LM Studio server status: NOT RUNNING @ %s\n", baseURL)
		}

		if !reachable {
			os.Exit(1)
		}
	}

	if *diagnose {
		operation = true
		report := lmstudio.RunDiagnostics(ctx, restClient, logger)
		printDiagnostics(report, *jsonOutput)
		if !report.Reachable {
			os.Exit(1)
		}
	}

	if *listLoaded {
		operation = true

		models, err := restClient.ListModelsDetailed(ctx)
		if err != nil {
			logger.Debug("Detailed listing unavailable, falling back: %v", err)
			models, err = restClient.ListLoadedModels(ctx)
		}
		if err != nil {
			logger.Error("Failed to list loaded models: %v", err)
			os.Exit(1)
		}
		printLoadedModels(models, *jsonOutput)
	}

	if *listDownloaded {
		operation = true
		nativeClient := lmstudio.NewNativeClient(baseURL, logger)
		defer nativeClient.Close()

		models, err := nativeClient.ListDownloadedModels()
		if err != nil {
			logger.Error("Failed to list downloaded models: %v", err)
			os.Exit(1)
		}
		printDownloadedModels(models, *jsonOutput)
	}

	if *loadModel != "" {
		operation = true

		alreadyLoaded := false
		if models, err := restClient.ListLoadedModels(ctx); err == nil {
			for _, model := range models {
				if model.ID == *loadModel {
					alreadyLoaded = true
					break
				}
			}
		}

		if alreadyLoaded {
			fmt.Printf("Model %s is already loaded\n", *loadModel)
		} else {
			nativeClient := lmstudio.NewNativeClient(baseURL, logger)
			defer nativeClient.Close()

			fmt.Printf("Loading model \"%s\" ...\n", *loadModel)
			err := nativeClient.LoadModel(*loadModel, func(progress float64) {
				displayProgressBar(progress)
			})
			if err != nil {
				fmt.Println()
				logger.Error("Failed to load model: %v", err)
				os.Exit(1)
			}
			fmt.Printf("\n✓ Model loaded successfully\n")
		}
	}

	if *unloadModel != "" {
		operation = true
		nativeClient := lmstudio.NewNativeClient(baseURL, logger)
		defer nativeClient.Close()

		fmt.Printf("Unloading model: %s\n", *unloadModel)
		if err := nativeClient.UnloadModel(*unloadModel); err != nil {
			if strings.Contains(err.Error(), "not loaded") ||
				strings.Contains(err.Error(), "No model found") {
				fmt.Printf("Model %s is not currently loaded. No action needed.\n", *unloadModel)
			} else {
				logger.Error("Failed to unload model: %v", err)
				os.Exit(1)
			}
		} else {
			fmt.Printf("Model %s unloaded successfully\n", *unloadModel)
		}
	}

	if *testModels {
		operation = true

		models, err := restClient.ListModelsDetailed(ctx)
		if err != nil {
			logger.Debug("Detailed listing unavailable, falling back: %v", err)
			models, err = restClient.ListLoadedModels(ctx)
		}
		if err != nil {
			logger.Error("Failed to list models: %v", err)
			os.Exit(1)
		}

		results := lmstudio.ExerciseModels(ctx, restClient, models, logger)
		if failed := printExerciseResults(results); failed > 0 {
			os.Exit(1)
		}
	}

	// Without an explicit operation, run the configuration workflow
	if !operation {
		opts := setup.Options{
			ModelOverride: resolveModelOverride(*modelFlag),
			ConfigPath:    *configPath,
			ServerCommand: *serverCommand,
			Logger:        logger,
			Client:        restClient,
		}
		if *serverScript != "" {
			if opts.ServerCommand == "" {
				opts.ServerCommand = "python3"
			}
			opts.ServerArgs = []string{*serverScript}
		}

		w, err := setup.NewWorkflow(opts)
		if err != nil {
			logger.Error("Setup failed: %v", err)
			os.Exit(1)
		}

		if err := w.Run(ctx); err != nil {
			fmt.Printf("✗ %v\n", err)

			if errors.Is(err, setup.ErrServerUnreachable) {
				report := lmstudio.RunDiagnostics(ctx, restClient, logger)
				for _, hint := range report.Guidance() {
					fmt.Println(hint)
				}
			}

			os.Exit(1)
		}
	}
}

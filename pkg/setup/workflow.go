package setup

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/hypernetix/lmstudio-claude/pkg/lmstudio"
)

// ModelClient is the slice of the LM Studio API the workflow needs.
type ModelClient interface {
	BaseURL() string
	IsReachable(ctx context.Context) bool
	ListLoadedModels(ctx context.Context) ([]lmstudio.Model, error)
	ValidateModel(ctx context.Context, modelID string) (string, error)
}

// Options configures a workflow run. Client is required, everything else
// has a sensible default.
type Options struct {
	// ModelOverride skips the interactive selection when it names a loaded model.
	ModelOverride string
	// ConfigPath is where the integration config is written. Defaults to
	// ~/.claude/mcp.json.
	ConfigPath string
	// ServerCommand and ServerArgs launch the companion MCP server.
	ServerCommand string
	ServerArgs    []string

	In     io.Reader
	Out    io.Writer
	Logger lmstudio.Logger
	Client ModelClient
}

// Workflow drives the configuration stages in order: health check, model
// listing, selection, validation and config write. The first failing stage
// aborts the run.
type Workflow struct {
	opts   Options
	logger lmstudio.Logger
}

// NewWorkflow validates the options and fills in defaults.
func NewWorkflow(opts Options) (*Workflow, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("options: Client is required")
	}
	if opts.Logger == nil {
		opts.Logger = lmstudio.NewLogger(lmstudio.LogLevelError)
	}
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.ConfigPath == "" {
		path, err := DefaultConfigPath()
		if err != nil {
			return nil, err
		}
		opts.ConfigPath = path
	}
	if opts.ServerCommand == "" {
		opts.ServerCommand, opts.ServerArgs = DefaultServerCommand()
	}

	return &Workflow{opts: opts, logger: opts.Logger}, nil
}

// Run executes the workflow. On success the integration config has been
// written and points at a model that answered a real completion request.
func (w *Workflow) Run(ctx context.Context) error {
	client := w.opts.Client
	out := w.opts.Out

	fmt.Fprintf(out, "Checking LM Studio server at %s...\n", client.BaseURL())

	healthCtx, cancel := context.WithTimeout(ctx, lmstudio.HealthCheckTimeoutSec*time.Second)
	reachable := client.IsReachable(healthCtx)
	cancel()

	if !reachable {
		return fmt.Errorf("%w: no server answered at %s", ErrServerUnreachable, client.BaseURL())
	}
	fmt.Fprintf(out, "✓ Server is reachable\n")

	listCtx, cancel := context.WithTimeout(ctx, lmstudio.ListModelsTimeoutSec*time.Second)
	models, err := client.ListLoadedModels(listCtx)
	cancel()

	if err != nil {
		return fmt.Errorf("%w: %v", ErrServerUnreachable, err)
	}
	if len(models) == 0 {
		return fmt.Errorf("%w: load a model in LM Studio and run the setup again", ErrEmptyModelList)
	}

	var selected lmstudio.Model
	if w.opts.ModelOverride != "" {
		selected, err = findModel(models, w.opts.ModelOverride)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Using model: %s\n", selected.ID)
	} else {
		fmt.Fprintf(out, "Found %d loaded model(s)\n", len(models))
		selector := &Selector{In: w.opts.In, Out: out, Logger: w.logger}
		selected, err = selector.Select(models)
		if err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "Validating model %s...\n", selected.ID)

	valCtx, cancel := context.WithTimeout(ctx, lmstudio.ValidationTimeoutSec*time.Second)
	reply, err := client.ValidateModel(valCtx, selected.ID)
	cancel()

	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	fmt.Fprintf(out, "✓ Model responded: %s\n", reply)

	cfg := BuildIntegrationConfig(w.opts.ServerCommand, w.opts.ServerArgs, client.BaseURL(), selected.ID)
	if err := WriteIntegrationConfig(cfg, w.opts.ConfigPath); err != nil {
		return err
	}

	fmt.Fprintf(out, "✓ Configuration written to %s\n", w.opts.ConfigPath)
	fmt.Fprintf(out, "\nRestart Claude to pick up the new configuration.\n")

	return nil
}

// findModel resolves a model override against the loaded models. An override
// naming a model that is not loaded fails the same way an empty list does.
func findModel(models []lmstudio.Model, id string) (lmstudio.Model, error) {
	for _, model := range models {
		if model.ID == id {
			return model, nil
		}
	}
	return lmstudio.Model{}, fmt.Errorf("%w: model %q is not loaded", ErrEmptyModelList, id)
}

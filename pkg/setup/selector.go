package setup

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/hypernetix/lmstudio-claude/pkg/lmstudio"
)

// Selector prompts for a model choice when more than one model is loaded.
type Selector struct {
	In     io.Reader
	Out    io.Writer
	Logger lmstudio.Logger
}

// parseSelection turns raw prompt input into a zero-based model index.
func parseSelection(input string, count int) (int, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return 0, fmt.Errorf("%w: empty input", ErrInvalidSelection)
	}

	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidSelection, trimmed)
	}
	if n < 1 || n > count {
		return 0, fmt.Errorf("%w: %d is out of range 1-%d", ErrInvalidSelection, n, count)
	}

	return n - 1, nil
}

// isQuitCommand reports whether the input asks to abort the selection.
func isQuitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "q", "quit", "exit":
		return true
	}
	return false
}

// Select returns the chosen model. A single model is selected without
// prompting. Invalid input prompts again until the user enters a valid
// number or cancels with q, quit, exit or end of input.
func (s *Selector) Select(models []lmstudio.Model) (lmstudio.Model, error) {
	if len(models) == 0 {
		return lmstudio.Model{}, fmt.Errorf("%w: nothing to select from", ErrEmptyModelList)
	}

	if len(models) == 1 {
		if s.Logger != nil {
			s.Logger.Debug("Single model %s, selecting it without prompting", models[0].ID)
		}
		fmt.Fprintf(s.Out, "Using model: %s\n", models[0].ID)
		return models[0], nil
	}

	fmt.Fprintf(s.Out, "Available models:\n")
	for i, model := range models {
		fmt.Fprintf(s.Out, "  %d. %s\n", i+1, model.ID)
	}

	reader := bufio.NewReader(s.In)

	for {
		fmt.Fprintf(s.Out, "Select a model (1-%d) or 'q' to quit: ", len(models))

		line, readErr := reader.ReadString('\n')
		if readErr != nil && line == "" {
			// End of input counts as cancellation
			fmt.Fprintln(s.Out)
			return lmstudio.Model{}, ErrSelectionCancelled
		}

		if isQuitCommand(line) {
			return lmstudio.Model{}, ErrSelectionCancelled
		}

		index, err := parseSelection(line, len(models))
		if err != nil {
			fmt.Fprintf(s.Out, "%v\n", err)
			if readErr != nil {
				// The last line of input was invalid and nothing follows
				return lmstudio.Model{}, ErrSelectionCancelled
			}
			continue
		}

		return models[index], nil
	}
}

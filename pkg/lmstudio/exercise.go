package lmstudio

import (
	"context"
	"strings"
	"time"
)

// ExerciseResult records the outcome of probing a single model with a short
// chat completion.
type ExerciseResult struct {
	ModelID  string
	Skipped  bool
	OK       bool
	Response string
	Err      error
	Elapsed  time.Duration
}

// isEmbeddingModel reports whether the model cannot serve chat completions.
func isEmbeddingModel(m Model) bool {
	if m.Type == "embeddings" {
		return true
	}
	return strings.Contains(strings.ToLower(m.ID), "embed")
}

// ExerciseModels sends a short completion to every model in turn and reports
// how each one responded. Embedding models are skipped since they do not
// serve the chat endpoint.
func ExerciseModels(ctx context.Context, client *RESTClient, models []Model, logger Logger) []ExerciseResult {
	if logger == nil {
		logger = NewLogger(LogLevelInfo)
	}

	results := make([]ExerciseResult, 0, len(models))

	for _, model := range models {
		result := ExerciseResult{ModelID: model.ID}

		if isEmbeddingModel(model) {
			logger.Debug("Skipping embedding model %s", model.ID)
			result.Skipped = true
			results = append(results, result)
			continue
		}

		logger.Debug("Exercising model %s", model.ID)
		start := time.Now()
		resp, err := client.ChatCompletion(ctx, &ChatCompletionRequest{
			Model:       model.ID,
			Messages:    []ChatMessage{{Role: "user", Content: ValidationPrompt}},
			MaxTokens:   ExerciseMaxTokens,
			Temperature: 0,
		})
		result.Elapsed = time.Since(start)

		if err != nil {
			logger.Debug("Model %s failed: %v", model.ID, err)
			result.Err = err
		} else {
			result.OK = true
			result.Response = strings.TrimSpace(resp.Choices[0].Message.Content)
		}

		results = append(results, result)
	}

	return results
}

package ai

import "context"

// GenerateOptions holds configuration for AI generation requests.
type GenerateOptions struct {
	Model         string   // Model identifier to use for generation
	SystemPrompts []string // System prompts prepended to the request
	Temperature   float64  // Sampling temperature (0.0-2.0)
	Thinking      string   // Extended thinking mode configuration
}

// Usage is the token usage reported for a single request.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add returns the sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + o.InputTokens,
		OutputTokens: u.OutputTokens + o.OutputTokens,
	}
}

// Completion is the raw answer of a structured generation request. Content
// is returned as the provider sent it; decoding and validation are up to
// the caller.
type Completion struct {
	Content string
	Model   string
	Usage   Usage
}

// ModelMetrics contains performance metrics from AI model operations.
type ModelMetrics struct {
	Requests       int     `json:"requests"`
	InputTokens    int     `json:"input_tokens"`
	OutputTokens   int     `json:"output_tokens"`
	TotalTokens    int     `json:"total_tokens"`
	DurationMs     int64   `json:"duration_ms"`
	TokenPerSecond float32 `json:"tokens_per_second"`
}

// GenerateOption is a functional option for configuring AI generation requests.
type GenerateOption func(*GenerateOptions)

// WithModel returns a GenerateOption that sets the model to use for generation.
func WithModel(model string) GenerateOption {
	return func(o *GenerateOptions) {
		o.Model = model
	}
}

// WithSystemPrompts returns a GenerateOption that sets the system prompts
// to prepend to the generation request.
func WithSystemPrompts(prompts ...string) GenerateOption {
	return func(o *GenerateOptions) {
		o.SystemPrompts = prompts
	}
}

// WithTemperature returns a GenerateOption that sets the sampling temperature.
// Higher values (e.g., 1.0) produce more random outputs, while lower values
// (e.g., 0.2) make outputs more focused and deterministic.
func WithTemperature(temp float64) GenerateOption {
	return func(o *GenerateOptions) {
		o.Temperature = temp
	}
}

// WithThinking returns a GenerateOption that enables extended thinking mode.
// The thinking parameter specifies the thinking budget or mode configuration.
func WithThinking(thinking string) GenerateOption {
	return func(o *GenerateOptions) {
		o.Thinking = thinking
	}
}

// GraphAIClient defines the interface for the AI operations used to extract
// relations for the knowledge graph.
//
// GenerateCompletionWithFormat sends prompt together with a JSON schema
// derived from schema (a value or pointer of the expected payload type).
// Errors returned by implementations are classified with ClassifyError so
// callers can tell rate limiting apart from other provider failures.
type GraphAIClient interface {
	GenerateCompletionWithFormat(
		ctx context.Context,
		name string,
		description string,
		prompt string,
		schema any,
		opts ...GenerateOption,
	) (Completion, error)

	ResetMetrics()
	GetMetrics() ModelMetrics
}

package ollama

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/OFFIS-RIT/tvkpi/pkg/ai"

	"github.com/ollama/ollama/api"
)

const (
	defaultContext = 4096
	// room for the answer on top of the prompt
	answerReserve = 1024
)

// GenerateCompletionWithFormat enforces a JSON schema and returns the raw answer.
func (c *GraphOllamaClient) GenerateCompletionWithFormat(
	ctx context.Context,
	name string,
	description string,
	prompt string,
	schema any,
	opts ...ai.GenerateOption,
) (ai.Completion, error) {
	if schema == nil {
		return ai.Completion{}, errors.New("schema must not be nil")
	}

	formatBytes, err := json.Marshal(ai.GenerateSchema(schema))
	if err != nil {
		return ai.Completion{}, err
	}
	var format json.RawMessage = formatBytes

	options := ai.GenerateOptions{
		Model:       c.extractionModel,
		Temperature: 0.1,
		Thinking:    "",
	}
	for _, o := range opts {
		o(&options)
	}

	msgs := make([]api.Message, 0, len(options.SystemPrompts)+1)
	for _, sys := range options.SystemPrompts {
		msgs = append(msgs, api.Message{Role: "system", Content: sys})
	}
	msgs = append(msgs, api.Message{Role: "user", Content: prompt})

	stream := false
	req := &api.ChatRequest{
		Model:    options.Model,
		Messages: msgs,
		Stream:   &stream,
		Format:   format,
		Options:  map[string]any{"temperature": options.Temperature},
	}

	if options.Thinking != "" {
		req.Think = &api.ThinkValue{
			Value: options.Thinking,
		}
	}

	if tokens := ai.EstimateTokens(c.encoding, prompt) + answerReserve; tokens > defaultContext {
		req.Options["num_ctx"] = tokens
	}

	if err := c.reqLock.Acquire(ctx, 1); err != nil {
		return ai.Completion{Model: options.Model}, err
	}
	defer c.reqLock.Release(1)

	var final api.ChatResponse
	if err := c.Client.Chat(ctx, req, func(cr api.ChatResponse) error {
		final.Message.Content += cr.Message.Content
		if cr.Done {
			final.Done = true
			final.Model = cr.Model
			final.Metrics = cr.Metrics
		}
		return nil
	}); err != nil {
		return ai.Completion{Model: options.Model}, classify(err)
	}

	usage := ai.Usage{
		InputTokens:  final.Metrics.PromptEvalCount,
		OutputTokens: final.Metrics.EvalCount,
	}
	c.modifyMetrics(ai.ModelMetrics{
		Requests:     1,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		TotalTokens:  usage.InputTokens + usage.OutputTokens,
		DurationMs:   final.Metrics.TotalDuration.Milliseconds(),
	})

	model := options.Model
	if final.Model != "" {
		model = final.Model
	}
	return ai.Completion{
		Content: final.Message.Content,
		Model:   model,
		Usage:   usage,
	}, nil
}

func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var se api.StatusError
	if errors.As(err, &se) {
		msg := se.ErrorMessage
		if msg == "" {
			msg = se.Status
		}
		return ai.NewProviderError(se.StatusCode, msg, "", err)
	}
	return ai.ClassifyError(err)
}

var _ ai.GraphAIClient = (*GraphOllamaClient)(nil)

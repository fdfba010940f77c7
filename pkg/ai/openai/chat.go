package openai

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/OFFIS-RIT/tvkpi/pkg/ai"
	"github.com/OFFIS-RIT/tvkpi/pkg/logger"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/shared"
)

// GenerateCompletionWithFormat sends a prompt to the chat model with a
// strict JSON schema derived from schema and returns the raw answer.
//
// Provider failures are returned as *ai.ProviderError.
//
// Example:
//
//	c, err := client.GenerateCompletionWithFormat(ctx, "kpi_factors", "KPI/factor relations", prompt, Payload{})
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(c.Content)
func (c *GraphOpenAIClient) GenerateCompletionWithFormat(
	ctx context.Context,
	name string,
	description string,
	prompt string,
	schema any,
	opts ...ai.GenerateOption,
) (ai.Completion, error) {
	schemaParam := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:        name,
		Description: openai.String(description),
		Schema:      ai.GenerateSchema(schema),
		Strict:      openai.Bool(true),
	}

	options := ai.GenerateOptions{
		Model:       c.extractionModel,
		Temperature: 0.1,
		Thinking:    "",
	}
	for _, o := range opts {
		o(&options)
	}

	msgs := []openai.ChatCompletionMessageParamUnion{}
	for _, sp := range options.SystemPrompts {
		msgs = append(msgs, openai.SystemMessage(sp))
	}
	msgs = append(msgs, openai.UserMessage(prompt))

	body := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(options.Model),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: schemaParam,
			},
		},
		Messages:    msgs,
		Temperature: openai.Float(options.Temperature),
	}

	if options.Thinking != "" {
		// gpt-5 models only accept temperature 1.0 with reasoning enabled
		if c.chatURL == "" {
			body.Temperature = openai.Float(1.0)
		}
		body.ReasoningEffort = shared.ReasoningEffort(options.Thinking)
	}

	start := time.Now()
	response, err := c.ChatClient.Chat.Completions.New(ctx, body)
	if err != nil {
		return ai.Completion{Model: options.Model}, classify(err)
	}
	duration := time.Since(start).Milliseconds()

	usage := ai.Usage{
		InputTokens:  int(response.Usage.PromptTokens),
		OutputTokens: int(response.Usage.CompletionTokens),
	}
	c.modifyMetrics(ai.ModelMetrics{
		Requests:     1,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		TotalTokens:  int(response.Usage.TotalTokens),
		DurationMs:   duration,
	})

	completion := ai.Completion{Model: options.Model, Usage: usage}
	if response.Model != "" {
		completion.Model = response.Model
	}
	if len(response.Choices) == 0 {
		return completion, &ai.ProviderError{Kind: ai.ErrorTransport, Message: "no choices in response from model"}
	}
	completion.Content = response.Choices[0].Message.Content
	if completion.Content == "" {
		// handed on as is, the caller treats an empty body as unparsable
		logger.Debug("Empty completion", "model", completion.Model, "finish_reason", response.Choices[0].FinishReason)
	}
	return completion, nil
}

// ResetMetrics clears all accumulated token and timing metrics to zero.
func (c *GraphOpenAIClient) ResetMetrics() {
	c.metricsLock.Lock()
	c.metrics = ai.ModelMetrics{}
	c.metricsLock.Unlock()
}

// GetMetrics returns the accumulated token usage and timing metrics since the last reset.
func (c *GraphOpenAIClient) GetMetrics() ai.ModelMetrics {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	return c.metrics
}

func (c *GraphOpenAIClient) modifyMetrics(m ai.ModelMetrics) {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()

	c.metrics.Requests += m.Requests
	c.metrics.InputTokens += m.InputTokens
	c.metrics.OutputTokens += m.OutputTokens
	c.metrics.TotalTokens += m.TotalTokens
	c.metrics.DurationMs += m.DurationMs

	if c.metrics.DurationMs > 0 {
		tokensPerSecond := (float64(c.metrics.TotalTokens) * 1000.0) / float64(c.metrics.DurationMs)
		c.metrics.TokenPerSecond = float32(math.Round(tokensPerSecond*100) / 100)
	}
}

var _ ai.GraphAIClient = (*GraphOpenAIClient)(nil)

func (c *GraphOpenAIClient) String() string {
	return fmt.Sprintf("openai(%s)", c.extractionModel)
}

package openai

import (
	"errors"
	"sync"
	"time"

	"github.com/OFFIS-RIT/tvkpi/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// GraphOpenAIClient talks to an OpenAI compatible chat completion endpoint
// for relation extraction.
//
// A GraphOpenAIClient should be created using NewGraphOpenAIClient.
type GraphOpenAIClient struct {
	extractionModel string

	chatURL string
	chatKey string

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	ChatClient *openai.Client
}

// NewGraphOpenAIClientParams defines the configuration parameters for creating
// a new GraphOpenAIClient.
//
// ExtractionModel specifies the model used for relation extraction.
// ChatURL and ChatKey configure the chat/completion API endpoint; an empty
// ChatURL targets api.openai.com. RequestTimeout bounds a single request.
type NewGraphOpenAIClientParams struct {
	ExtractionModel string

	ChatURL string
	ChatKey string

	RequestTimeout time.Duration
}

// NewGraphOpenAIClient creates and returns a new GraphOpenAIClient.
//
// The SDK's own retries are disabled: rate limiting and transient failures
// are handled by the caller's retry loop.
//
// Example:
//
//	client, err := openai.NewGraphOpenAIClient(openai.NewGraphOpenAIClientParams{
//		ExtractionModel: "gpt-4o-mini",
//		ChatKey:         os.Getenv("AI_CHAT_KEY"),
//	})
func NewGraphOpenAIClient(
	params NewGraphOpenAIClientParams,
) (*GraphOpenAIClient, error) {
	if params.ChatKey == "" {
		return nil, errors.New("openai: missing API key")
	}
	chatClient := newOpenaiClient(params.ChatURL, params.ChatKey, params.RequestTimeout)

	return &GraphOpenAIClient{
		extractionModel: params.ExtractionModel,

		chatURL: params.ChatURL,
		chatKey: params.ChatKey,

		metricsLock: sync.Mutex{},
		metrics:     ai.ModelMetrics{},

		ChatClient: chatClient,
	}, nil
}

func newOpenaiClient(
	baseURL string,
	apiKey string,
	timeout time.Duration,
) *openai.Client {
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}

	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}
	if timeout > 0 {
		options = append(options, option.WithRequestTimeout(timeout))
	}

	client := openai.NewClient(options...)

	return &client
}

// classify maps SDK errors onto ai.ProviderError, keeping the status code
// and any Retry-After header the API sent.
func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		retryAfter := ""
		if apiErr.Response != nil {
			retryAfter = apiErr.Response.Header.Get("Retry-After")
		}
		msg := apiErr.Message
		if apiErr.Code != "" {
			msg = apiErr.Code + ": " + msg
		}
		if msg == "" {
			msg = apiErr.Error()
		}
		return ai.NewProviderError(apiErr.StatusCode, msg, retryAfter, err)
	}
	return ai.ClassifyError(err)
}

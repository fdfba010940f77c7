package ollama

import (
	"net/http"
	"net/url"
	"sync"

	"github.com/OFFIS-RIT/tvkpi/pkg/ai"

	"github.com/ollama/ollama/api"
	"golang.org/x/sync/semaphore"
)

// GraphOllamaClient implements the ai.GraphAIClient interface using Ollama as the backend.
type GraphOllamaClient struct {
	extractionModel string
	encoding        string

	reqLock *semaphore.Weighted

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	baseURL    *url.URL
	apiKey     string
	httpClient *http.Client

	Client *api.Client
}

// NewGraphOllamaClientParams contains configuration options for creating a new GraphOllamaClient.
//
// Encoding names the tiktoken encoding used to size the context window;
// empty falls back to a character based estimate.
type NewGraphOllamaClientParams struct {
	ExtractionModel string
	Encoding        string

	BaseURL string
	ApiKey  string

	MaxConcurrentRequests int64
}

type headerTransport struct {
	headers map[string]string
	rt      http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// clone so original request isn't modified
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		// don't overwrite if already set
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	return t.rt.RoundTrip(r)
}

// NewGraphOllamaClient creates a new Ollama-based AI client with the specified configuration.
// It connects to the Ollama server at the given BaseURL (or the default if empty).
func NewGraphOllamaClient(
	params NewGraphOllamaClientParams,
) (*GraphOllamaClient, error) {
	var (
		u   *url.URL
		err error
	)

	if params.BaseURL != "" {
		u, err = url.Parse(params.BaseURL)
		if err != nil {
			return nil, err
		}
	} else {
		u = &url.URL{Scheme: "http", Host: "localhost:11434"}
	}

	headers := map[string]string{}
	if params.ApiKey != "" {
		headers["Authorization"] = "Bearer " + params.ApiKey
	}
	httpClient := &http.Client{
		Transport: &headerTransport{
			headers: headers,
			rt:      http.DefaultTransport,
		},
	}

	cli := api.NewClient(u, httpClient)

	maxRequests := params.MaxConcurrentRequests
	if maxRequests <= 0 {
		maxRequests = 1
	}

	return &GraphOllamaClient{
		extractionModel: params.ExtractionModel,
		encoding:        params.Encoding,

		reqLock: semaphore.NewWeighted(maxRequests),

		metricsLock: sync.Mutex{},
		metrics:     ai.ModelMetrics{},

		baseURL:    u,
		apiKey:     params.ApiKey,
		httpClient: httpClient,

		Client: cli,
	}, nil
}

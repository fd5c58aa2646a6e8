package ollama

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/OFFIS-RIT/deepresearch/pkg/ai"
	"github.com/OFFIS-RIT/deepresearch/pkg/caller"

	"github.com/ollama/ollama/api"
	"golang.org/x/sync/semaphore"
)

// OllamaModel implements ai.GenerativeModel using Ollama as the backend.
// It talks to a locally hosted or proxied Ollama server.
type OllamaModel struct {
	ai.MetricsRecorder

	model string

	reqLock *semaphore.Weighted

	baseURL    *url.URL
	apiKey     string
	httpClient *http.Client

	Client *api.Client
}

// NewOllamaModelParams contains configuration options for creating a new OllamaModel.
//
// MaxConcurrentRequests bounds in-flight requests to the server. Zero
// disables the local bound.
type NewOllamaModelParams struct {
	Model string

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

// NewOllamaModel creates a new Ollama-based model with the specified configuration.
// It connects to the Ollama server at the given BaseURL (or the default if empty).
func NewOllamaModel(
	params NewOllamaModelParams,
) (*OllamaModel, error) {
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
		u = &url.URL{Scheme: "http", Host: "127.0.0.1:11434"}
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

	var sem *semaphore.Weighted
	if params.MaxConcurrentRequests > 0 {
		sem = semaphore.NewWeighted(params.MaxConcurrentRequests)
	}

	return &OllamaModel{
		model: params.Model,

		reqLock: sem,

		baseURL:    u,
		apiKey:     params.ApiKey,
		httpClient: httpClient,

		Client: api.NewClient(u, httpClient),
	}, nil
}

func classify(err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return caller.FromStatus(statusErr.StatusCode, err)
	}
	var ptrErr *api.StatusError
	if errors.As(err, &ptrErr) {
		return caller.FromStatus(ptrErr.StatusCode, err)
	}
	return err
}

package openai

import (
	"errors"

	"github.com/OFFIS-RIT/deepresearch/pkg/ai"
	"github.com/OFFIS-RIT/deepresearch/pkg/caller"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIModel implements ai.GenerativeModel against any OpenAI compatible
// chat completions endpoint.
//
// An OpenAIModel should be created using NewOpenAIModel.
type OpenAIModel struct {
	ai.MetricsRecorder

	model  string
	apiKey string
	url    string

	Client *openai.Client
}

// NewOpenAIModelParams defines the configuration parameters for creating
// a new OpenAIModel.
//
// Model is the default chat model. BaseURL is optional and points the client
// at a compatible server (vLLM, LiteLLM, Azure proxies).
type NewOpenAIModelParams struct {
	Model   string
	BaseURL string
	ApiKey  string
}

// NewOpenAIModel creates and returns a new OpenAIModel configured with
// the provided parameters.
//
// Example:
//
//	model := openai.NewOpenAIModel(openai.NewOpenAIModelParams{
//		Model:  "gpt-4o-mini",
//		ApiKey: os.Getenv("LLM_API_KEY"),
//	})
func NewOpenAIModel(params NewOpenAIModelParams) (*OpenAIModel, error) {
	if params.ApiKey == "" && params.BaseURL == "" {
		return nil, errors.New("openai: api key or base url is required")
	}

	return &OpenAIModel{
		model:  params.Model,
		apiKey: params.ApiKey,
		url:    params.BaseURL,
		Client: newOpenaiClient(params.BaseURL, params.ApiKey),
	}, nil
}

func newOpenaiClient(
	baseURL string,
	apiKey string,
) *openai.Client {
	// retries are owned by caller.Caller
	options := []option.RequestOption{
		option.WithMaxRetries(0),
	}
	if apiKey != "" {
		options = append(options, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(options...)

	return &client
}

func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return caller.FromStatus(apiErr.StatusCode, err)
	}
	return err
}

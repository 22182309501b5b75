// Package llm is a thin client for OpenAI-compatible chat completion endpoints
// (OpenAI, Cerebras, Groq).
package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/dtnitsch/llm-web-search/pkg/selector"
)

// ErrNoCredential is returned when a provider has no API key configured.
var ErrNoCredential = errors.New("no api key configured")

// ErrEmptyCompletion is returned when the endpoint answers without any choice.
var ErrEmptyCompletion = errors.New("completion has no choices")

// Request is one chat completion call.
type Request struct {
	Model        string
	System       string
	User         string
	ImageDataURL string // attached to the user message when set
	MaxTokens    int
	Temperature  float64
	JSON         bool
}

// Client talks to one provider. Each call picks an API key from the key selector.
type Client struct {
	name    string
	keys    selector.Selector[string]
	clients map[string]openai.Client
}

// Options configure a Client.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// NewClient builds a client for provider name. keys may be nil when no credential exists;
// calls then fail with ErrNoCredential.
func NewClient(name string, keys selector.Selector[string], opts Options) *Client {
	c := &Client{name: name, keys: keys, clients: map[string]openai.Client{}}
	if keys == nil {
		return c
	}
	for i := 0; i < keys.Len(); i++ {
		key := keys.Next()
		if _, ok := c.clients[key]; ok {
			continue
		}
		reqOpts := []option.RequestOption{
			option.WithAPIKey(key),
			option.WithMaxRetries(0),
		}
		if opts.BaseURL != "" {
			reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
		}
		if opts.Timeout > 0 {
			reqOpts = append(reqOpts, option.WithRequestTimeout(opts.Timeout))
		}
		if opts.HTTPClient != nil {
			reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
		}
		c.clients[key] = openai.NewClient(reqOpts...)
	}
	return c
}

// Name returns the provider name.
func (c *Client) Name() string { return c.name }

// HasCredential reports whether at least one API key is configured.
func (c *Client) HasCredential() bool { return len(c.clients) > 0 }

func (c *Client) pick() (*openai.Client, error) {
	if !c.HasCredential() {
		return nil, ErrNoCredential
	}
	client := c.clients[c.keys.Next()]
	return &client, nil
}

// Complete runs a non-streaming completion and returns the first choice's text.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	client, err := c.pick()
	if err != nil {
		return "", err
	}
	resp, err := client.Chat.Completions.New(ctx, buildParams(req))
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream runs a streaming completion, calling onDelta for every content fragment.
// An error from onDelta stops the stream and is returned.
func (c *Client) Stream(ctx context.Context, req Request, onDelta func(string) error) error {
	client, err := c.pick()
	if err != nil {
		return err
	}
	stream := client.Chat.Completions.NewStreaming(ctx, buildParams(req))
	defer stream.Close()

	for stream.Next() {
		chunk := stream.Current()
		for _, choice := range chunk.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			if err := onDelta(choice.Delta.Content); err != nil {
				return err
			}
		}
	}
	return stream.Err()
}

func buildParams(req Request) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	if req.ImageDataURL != "" {
		messages = append(messages, imageUserMessage(req.User, req.ImageDataURL))
	} else {
		messages = append(messages, openai.UserMessage(req.User))
	}

	params := openai.ChatCompletionNewParams{
		Model:    req.Model,
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.JSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	return params
}

func imageUserMessage(text, dataURL string) openai.ChatCompletionMessageParamUnion {
	parts := []openai.ChatCompletionContentPartUnionParam{
		{OfText: &openai.ChatCompletionContentPartTextParam{Text: text}},
		{OfImageURL: &openai.ChatCompletionContentPartImageParam{
			ImageURL: openai.ChatCompletionContentPartImageImageURLParam{
				URL:    dataURL,
				Detail: "auto",
			},
		}},
	}
	return openai.ChatCompletionMessageParamUnion{
		OfUser: &openai.ChatCompletionUserMessageParam{
			Content: openai.ChatCompletionUserMessageParamContentUnion{
				OfArrayOfContentParts: parts,
			},
		},
	}
}

// StatusCode extracts the HTTP status of an API error.
func StatusCode(err error) (int, bool) {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode, true
	}
	return 0, false
}

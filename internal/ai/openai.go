package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/jkindrix/estimatebot/internal/config"
)

const defaultOpenAIModel = openai.GPT4oMini

// OpenAIClient calls the OpenAI chat completions API.
type OpenAIClient struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// NewOpenAIClient creates a new OpenAI client. BaseURL overrides the API
// endpoint, for compatible gateways and tests.
func NewOpenAIClient(cfg config.ProviderConfig, timeout time.Duration, logger *zap.Logger) *OpenAIClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}

	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		logger: logger.Named("openai"),
	}
}

// Name implements Provider.
func (c *OpenAIClient) Name() ProviderType {
	return ProviderOpenAI
}

// Generate implements Provider.
func (c *OpenAIClient) Generate(ctx context.Context, req *Request) (string, error) {
	userParts := make([]openai.ChatMessagePart, 0, len(req.Parts))
	for _, p := range req.Parts {
		if p.IsImage() {
			userParts = append(userParts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    fmt.Sprintf("data:%s;base64,%s", p.MIMEType, p.Data),
					Detail: openai.ImageURLDetailAuto,
				},
			})
			continue
		}
		userParts = append(userParts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeText,
			Text: p.Text,
		})
	}

	chatReq := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, MultiContent: userParts},
		},
	}
	if req.Schema != nil {
		schema, err := json.Marshal(req.Schema)
		if err != nil {
			return "", fmt.Errorf("failed to marshal schema: %w", err)
		}
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "estimation_result",
				Schema: json.RawMessage(schema),
			},
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return "", openAIError(err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", &ProviderError{Provider: ProviderOpenAI, Kind: KindUnknown, Message: "The AI returned an empty response."}
	}

	c.logger.Debug("estimate generated",
		zap.String("model", c.model),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("output_tokens", resp.Usage.CompletionTokens),
	)
	return resp.Choices[0].Message.Content, nil
}

func openAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if code, ok := apiErr.Code.(string); ok && code != "" {
			msg = code + ": " + msg
		}
		return &ProviderError{
			Provider: ProviderOpenAI,
			Kind:     Classify(apiErr.HTTPStatusCode, msg+" "+apiErr.Type),
			Status:   apiErr.HTTPStatusCode,
			Message:  msg,
			Err:      err,
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &ProviderError{
			Provider: ProviderOpenAI,
			Kind:     Classify(reqErr.HTTPStatusCode, reqErr.Error()),
			Status:   reqErr.HTTPStatusCode,
			Message:  http.StatusText(reqErr.HTTPStatusCode),
			Err:      err,
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return transportError(ProviderOpenAI, err)
}

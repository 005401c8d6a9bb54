package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jkindrix/estimatebot/internal/config"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel   = "gemini-3-flash-preview"
)

// GeminiClient calls the Gemini generateContent REST endpoint.
type GeminiClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewGeminiClient creates a new Gemini client.
func NewGeminiClient(cfg config.ProviderConfig, timeout time.Duration, logger *zap.Logger) *GeminiClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	return &GeminiClient{
		apiKey:     cfg.APIKey,
		model:      model,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("gemini"),
	}
}

// Name implements Provider.
func (c *GeminiClient) Name() ProviderType {
	return ProviderGemini
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	ResponseMIMEType string         `json:"responseMimeType,omitempty"`
	ResponseSchema   map[string]any `json:"responseSchema,omitempty"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	Contents          []geminiContent        `json:"contents"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

type geminiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Generate implements Provider.
func (c *GeminiClient) Generate(ctx context.Context, req *Request) (string, error) {
	body := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: toGeminiParts(req.Parts)}},
		GenerationConfig: geminiGenerationConfig{
			ResponseMIMEType: "application/json",
		},
	}
	if req.System != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	if req.Schema != nil {
		body.GenerationConfig.ResponseSchema = geminiSchema(req.Schema)
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", transportError(ProviderGemini, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", transportError(ProviderGemini, err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", c.apiError(resp.StatusCode, respBody)
	}

	var genResp geminiResponse
	if err := json.Unmarshal(respBody, &genResp); err != nil {
		return "", &ProviderError{Provider: ProviderGemini, Kind: KindUnknown, Message: "invalid response body", Err: err}
	}

	var text strings.Builder
	if len(genResp.Candidates) > 0 {
		for _, p := range genResp.Candidates[0].Content.Parts {
			text.WriteString(p.Text)
		}
	}
	if text.Len() == 0 {
		return "", &ProviderError{Provider: ProviderGemini, Kind: KindUnknown, Message: "The AI returned an empty response."}
	}

	c.logger.Debug("estimate generated",
		zap.String("model", c.model),
		zap.Int("prompt_tokens", genResp.UsageMetadata.PromptTokenCount),
		zap.Int("output_tokens", genResp.UsageMetadata.CandidatesTokenCount),
	)
	return text.String(), nil
}

func (c *GeminiClient) apiError(status int, body []byte) *ProviderError {
	var errResp geminiError
	msg := http.StatusText(status)
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		msg = errResp.Error.Message
		if errResp.Error.Status != "" {
			msg = errResp.Error.Status + ": " + msg
		}
	}
	return &ProviderError{
		Provider: ProviderGemini,
		Kind:     Classify(status, msg),
		Status:   status,
		Message:  msg,
	}
}

func toGeminiParts(parts []Part) []geminiPart {
	out := make([]geminiPart, 0, len(parts))
	for _, p := range parts {
		if p.IsImage() {
			out = append(out, geminiPart{InlineData: &geminiInlineData{MIMEType: p.MIMEType, Data: p.Data}})
			continue
		}
		out = append(out, geminiPart{Text: p.Text})
	}
	return out
}

// geminiSchema converts a JSON Schema document to Gemini's OpenAPI subset,
// which spells types in upper case and has no additionalProperties.
func geminiSchema(schema map[string]any) map[string]any {
	out := make(map[string]any, len(schema))
	for k, v := range schema {
		switch k {
		case "additionalProperties", "$schema":
			continue
		case "type":
			if s, ok := v.(string); ok {
				out[k] = strings.ToUpper(s)
				continue
			}
		case "properties":
			if props, ok := v.(map[string]any); ok {
				converted := make(map[string]any, len(props))
				for name, sub := range props {
					if m, ok := sub.(map[string]any); ok {
						converted[name] = geminiSchema(m)
					}
				}
				out[k] = converted
				continue
			}
		case "items":
			if m, ok := v.(map[string]any); ok {
				out[k] = geminiSchema(m)
				continue
			}
		}
		out[k] = v
	}
	return out
}

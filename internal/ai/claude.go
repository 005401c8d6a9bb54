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
	defaultClaudeBaseURL = "https://api.anthropic.com"
	defaultClaudeModel   = "claude-sonnet-4-20250514"
	claudeAPIVersion     = "2023-06-01"
	claudeMaxTokens      = 2048
)

// ClaudeClient handles communication with the Anthropic Messages API.
type ClaudeClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClaudeClient creates a new Claude client.
func NewClaudeClient(cfg config.ProviderConfig, timeout time.Duration, logger *zap.Logger) *ClaudeClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	model := cfg.Model
	if model == "" {
		model = defaultClaudeModel
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultClaudeBaseURL
	}
	return &ClaudeClient{
		apiKey:     cfg.APIKey,
		model:      model,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("claude"),
	}
}

// Name implements Provider.
func (c *ClaudeClient) Name() ProviderType {
	return ProviderAnthropic
}

// ClaudeRequest represents a request to the Claude API.
type ClaudeRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	System    string          `json:"system,omitempty"`
	Messages  []ClaudeMessage `json:"messages"`
}

// ClaudeMessage represents a message in a Claude conversation.
type ClaudeMessage struct {
	Role    string        `json:"role"`
	Content []ClaudeBlock `json:"content"`
}

// ClaudeBlock is a text or image content block.
type ClaudeBlock struct {
	Type   string             `json:"type"`
	Text   string             `json:"text,omitempty"`
	Source *ClaudeImageSource `json:"source,omitempty"`
}

// ClaudeImageSource carries an inline base64 image.
type ClaudeImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// ClaudeResponse represents a response from the Claude API.
type ClaudeResponse struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// ClaudeError represents an error response from the Claude API.
type ClaudeError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Generate implements Provider. The Messages API has no schema-constrained
// output mode here, so the schema is appended to the system prompt.
func (c *ClaudeClient) Generate(ctx context.Context, req *Request) (string, error) {
	blocks := make([]ClaudeBlock, 0, len(req.Parts))
	for _, p := range req.Parts {
		if p.IsImage() {
			blocks = append(blocks, ClaudeBlock{
				Type:   "image",
				Source: &ClaudeImageSource{Type: "base64", MediaType: p.MIMEType, Data: p.Data},
			})
			continue
		}
		blocks = append(blocks, ClaudeBlock{Type: "text", Text: p.Text})
	}

	system, err := claudeSystem(req)
	if err != nil {
		return "", err
	}

	reqBody := ClaudeRequest{
		Model:     c.model,
		MaxTokens: claudeMaxTokens,
		System:    system,
		Messages:  []ClaudeMessage{{Role: "user", Content: blocks}},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", claudeAPIVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", transportError(ProviderAnthropic, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", transportError(ProviderAnthropic, err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := http.StatusText(resp.StatusCode)
		var errResp ClaudeError
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
			msg = errResp.Error.Type + ": " + errResp.Error.Message
		}
		return "", &ProviderError{
			Provider: ProviderAnthropic,
			Kind:     Classify(resp.StatusCode, msg),
			Status:   resp.StatusCode,
			Message:  msg,
		}
	}

	var claudeResp ClaudeResponse
	if err := json.Unmarshal(body, &claudeResp); err != nil {
		return "", &ProviderError{Provider: ProviderAnthropic, Kind: KindUnknown, Message: "invalid response body", Err: err}
	}

	var text strings.Builder
	for _, block := range claudeResp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", &ProviderError{Provider: ProviderAnthropic, Kind: KindUnknown, Message: "The AI returned an empty response."}
	}

	c.logger.Debug("estimate generated",
		zap.Int("input_tokens", claudeResp.Usage.InputTokens),
		zap.Int("output_tokens", claudeResp.Usage.OutputTokens),
	)

	return text.String(), nil
}

func claudeSystem(req *Request) (string, error) {
	if req.Schema == nil {
		return req.System, nil
	}
	schema, err := json.MarshalIndent(req.Schema, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal schema: %w", err)
	}
	return fmt.Sprintf("%s\n\nRespond with a single JSON object and nothing else. It must match this JSON Schema:\n%s", req.System, schema), nil
}

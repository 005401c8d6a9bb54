// Package ai requests cost estimates from hosted language models. Each
// provider adapter turns a multi-part Request into the provider's wire
// format and maps its failures onto a small set of error kinds.
package ai

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/jkindrix/estimatebot/internal/config"
)

// ProviderType identifies a hosted model provider.
type ProviderType string

const (
	ProviderGemini    ProviderType = "gemini"
	ProviderOpenAI    ProviderType = "openai"
	ProviderAnthropic ProviderType = "anthropic"
)

// Part is one piece of the user turn: text, or an inline base64 image.
type Part struct {
	Text     string
	MIMEType string
	Data     string
}

// TextPart returns a text part.
func TextPart(text string) Part {
	return Part{Text: text}
}

// ImagePart returns an inline image part. data is base64 encoded.
func ImagePart(mimeType, data string) Part {
	return Part{MIMEType: mimeType, Data: data}
}

// IsImage reports whether the part carries image data.
func (p Part) IsImage() bool {
	return p.Data != ""
}

// Request is a provider-neutral generation request.
type Request struct {
	System string
	Parts  []Part
	// Schema is the JSON Schema the response must satisfy. Providers with
	// native structured output pass it through; the others describe it in
	// the prompt.
	Schema map[string]any
}

// Provider generates a response for a request. Implementations return
// *ProviderError for failures reported by the remote service.
type Provider interface {
	Name() ProviderType
	Generate(ctx context.Context, req *Request) (string, error)
}

// Registry holds the configured providers and which one serves estimates.
type Registry struct {
	providers map[ProviderType]Provider
	primary   ProviderType
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewRegistry creates a new provider registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		providers: make(map[ProviderType]Provider),
		logger:    logger,
	}
}

// Register adds a provider, replacing any provider with the same name.
func (r *Registry) Register(provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := provider.Name()
	r.providers[name] = provider
	r.logger.Info("registered ai provider", zap.String("provider", string(name)))
}

// SetPrimary sets the provider used for estimates.
func (r *Registry) SetPrimary(providerType ProviderType) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[providerType]; !exists {
		return fmt.Errorf("provider %s not registered", providerType)
	}

	r.primary = providerType
	r.logger.Info("set primary ai provider", zap.String("provider", string(providerType)))
	return nil
}

// Get retrieves a provider by type.
func (r *Registry) Get(providerType ProviderType) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, exists := r.providers[providerType]
	if !exists {
		return nil, fmt.Errorf("provider %s not registered", providerType)
	}
	return provider, nil
}

// Primary returns the primary provider. With no primary set it returns the
// first registered provider in name order.
func (r *Registry) Primary() (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.primary == "" {
		names := r.sortedNames()
		if len(names) == 0 {
			return nil, fmt.Errorf("no providers registered")
		}
		return r.providers[names[0]], nil
	}

	provider, exists := r.providers[r.primary]
	if !exists {
		return nil, fmt.Errorf("primary provider %s not registered", r.primary)
	}
	return provider, nil
}

// List returns all registered provider types in name order.
func (r *Registry) List() []ProviderType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedNames()
}

func (r *Registry) sortedNames() []ProviderType {
	names := make([]ProviderType, 0, len(r.providers))
	for t := range r.providers {
		names = append(names, t)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// ProviderStatus is one provider's entry in the health report.
type ProviderStatus struct {
	Name      ProviderType `json:"name"`
	IsPrimary bool         `json:"is_primary"`
}

// HealthStatus lists registered providers.
func (r *Registry) HealthStatus() []ProviderStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := r.sortedNames()
	statuses := make([]ProviderStatus, 0, len(names))
	for _, name := range names {
		statuses = append(statuses, ProviderStatus{
			Name:      name,
			IsPrimary: name == r.primary,
		})
	}
	return statuses
}

// Count returns the number of registered providers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}

// NewRegistryFromConfig registers every provider that has an API key and
// makes cfg.Provider the primary.
func NewRegistryFromConfig(cfg config.AIConfig, logger *zap.Logger) (*Registry, error) {
	registry := NewRegistry(logger)

	if cfg.Gemini.APIKey != "" {
		registry.Register(NewGeminiClient(cfg.Gemini, cfg.Timeout, logger))
	}
	if cfg.OpenAI.APIKey != "" {
		registry.Register(NewOpenAIClient(cfg.OpenAI, cfg.Timeout, logger))
	}
	if cfg.Anthropic.APIKey != "" {
		registry.Register(NewClaudeClient(cfg.Anthropic, cfg.Timeout, logger))
	}

	if err := registry.SetPrimary(ProviderType(cfg.Provider)); err != nil {
		return nil, err
	}
	return registry, nil
}

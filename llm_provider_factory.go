package shopassist

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Backend names understood by ProviderFactory.
const (
	BackendOpenAI    = "openai"
	BackendAnthropic = "anthropic"
	BackendGemini    = "gemini"
	BackendGrok      = "grok"
	BackendBedrock   = "bedrock"
)

// ProviderFactory maps a requested model name to a registered chat backend.
//
// Resolution order: an exact backend name, then the longest registered backend name
// contained in the lowercased model string ("gemini-2.0-flash" resolves to "gemini"),
// then the longest model-family prefix whose backend is registered ("claude-3-5-sonnet"
// resolves to "anthropic"), then the default backend.
type ProviderFactory struct {
	mu          sync.RWMutex
	providers   map[string]LLMProvider
	prefixes    map[string]string
	defaultName string
}

// defaultModelPrefixes maps model-family prefixes to the backend serving them.
var defaultModelPrefixes = map[string]string{
	"gpt":     BackendOpenAI,
	"chatgpt": BackendOpenAI,
	"claude":  BackendAnthropic,
	"grok":    BackendGrok,
	"gemini":  BackendGemini,
}

// NewProviderFactory creates an empty factory whose fallback is defaultName.
func NewProviderFactory(defaultName string) *ProviderFactory {
	prefixes := make(map[string]string, len(defaultModelPrefixes))
	for prefix, backend := range defaultModelPrefixes {
		prefixes[prefix] = backend
	}
	return &ProviderFactory{
		providers:   make(map[string]LLMProvider),
		prefixes:    prefixes,
		defaultName: strings.ToLower(defaultName),
	}
}

// RegisterModelPrefix routes models starting with prefix to backend.
func (f *ProviderFactory) RegisterModelPrefix(prefix, backend string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prefixes[strings.ToLower(prefix)] = strings.ToLower(backend)
}

// Register adds or replaces the provider for a backend name.
func (f *ProviderFactory) Register(name string, provider LLMProvider) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.providers[strings.ToLower(name)] = provider
}

// Backends lists the registered backend names, sorted.
func (f *ProviderFactory) Backends() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	names := make([]string, 0, len(f.providers))
	for name := range f.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the backend name and provider for model. Unknown models fall back to
// the default backend; an error is returned only when that is not registered either.
func (f *ProviderFactory) Resolve(model string) (string, LLMProvider, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	model = strings.ToLower(strings.TrimSpace(model))

	if p, ok := f.providers[model]; ok {
		return model, p, nil
	}

	best := ""
	for name := range f.providers {
		if model != "" && strings.Contains(model, name) && len(name) > len(best) {
			best = name
		}
	}
	if best != "" {
		return best, f.providers[best], nil
	}

	bestPrefix := ""
	for prefix, backend := range f.prefixes {
		if _, ok := f.providers[backend]; ok && strings.HasPrefix(model, prefix) && len(prefix) > len(bestPrefix) {
			bestPrefix = prefix
		}
	}
	if bestPrefix != "" {
		backend := f.prefixes[bestPrefix]
		return backend, f.providers[backend], nil
	}

	if p, ok := f.providers[f.defaultName]; ok {
		return f.defaultName, p, nil
	}

	return "", nil, fmt.Errorf("no chat backend for model %q and default backend %q is not registered", model, f.defaultName)
}

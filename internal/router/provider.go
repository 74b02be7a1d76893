package router

import (
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/af-corp/persona-gateway/internal/config"
	"github.com/af-corp/persona-gateway/internal/router/adapters"
)

const defaultProviderTimeout = 30 * time.Second

// Registry manages provider adapters by configured name.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]adapters.Provider
}

func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]adapters.Provider),
	}
}

func (r *Registry) Register(name string, adapter adapters.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[name] = adapter
}

func (r *Registry) Get(name string) (adapters.Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Names returns the registered provider names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.adapters))
}

// BuildFromConfig builds provider adapters from the providers config.
// Providers without an API key are skipped.
func BuildFromConfig(provCfg *config.ProvidersConfig, logger *slog.Logger) *Registry {
	registry := NewRegistry()
	if provCfg == nil {
		return registry
	}
	for name, cfg := range provCfg.Providers {
		if cfg.APIKey == "" {
			logger.Warn("provider disabled: missing api key", "provider", name)
			continue
		}

		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultProviderTimeout
		}
		// Unary calls carry cfg.Timeout on their context; streams only bound
		// the wait for response headers.
		client := &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				MaxIdleConns:          cfg.MaxConcurrent,
				MaxIdleConnsPerHost:   cfg.MaxConcurrent,
				MaxConnsPerHost:       cfg.MaxConcurrent,
				IdleConnTimeout:       90 * time.Second,
				ResponseHeaderTimeout: timeout,
				ForceAttemptHTTP2:     true,
			},
		}

		var adapter adapters.Provider
		switch cfg.Type {
		case "openai":
			adapter = adapters.NewOpenAIAdapter(name, cfg, client)
		case "doubao":
			adapter = adapters.NewDoubaoAdapter(name, cfg, client)
		case "anthropic":
			adapter = adapters.NewAnthropicAdapter(name, cfg, client)
		default:
			// Fall back to OpenAI-compatible for unknown types
			adapter = adapters.NewOpenAIAdapter(name, cfg, client)
		}
		registry.Register(name, adapter)
		logger.Info("provider registered", "provider", name, "type", cfg.Type, "model", cfg.Model)
	}
	return registry
}

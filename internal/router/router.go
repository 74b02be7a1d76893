package router

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/af-corp/persona-gateway/internal/router/adapters"
	"github.com/af-corp/persona-gateway/internal/types"
)

// Options configures a Router.
type Options struct {
	Registry         *Registry
	Aliases          *AliasTable
	DefaultProvider  string
	FallbackProvider string
	// DefaultMaxTokens applies when neither the caller nor the alias sets one. Zero leaves it unset.
	DefaultMaxTokens int
	// Health is optional. When nil no circuit breaking is applied.
	Health *HealthTracker
	Logger *slog.Logger
}

// Router resolves aliases to providers and executes chat requests against them.
// A Router is immutable after New; configuration changes build a new one.
type Router struct {
	registry         *Registry
	aliases          *AliasTable
	defaultProvider  string
	fallbackProvider string
	defaultMaxTokens int
	health           *HealthTracker
	logger           *slog.Logger
}

// New validates opts and returns a Router. It fails with a ConfigurationError
// when neither the default nor the fallback provider is registered.
func New(opts Options) (*Router, error) {
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if !opts.Registry.Has(opts.DefaultProvider) && !opts.Registry.Has(opts.FallbackProvider) {
		return nil, &types.ConfigurationError{Reason: fmt.Sprintf(
			"neither default provider %q nor fallback provider %q is registered (registered: %v)",
			opts.DefaultProvider, opts.FallbackProvider, opts.Registry.Names())}
	}
	return &Router{
		registry:         opts.Registry,
		aliases:          opts.Aliases,
		defaultProvider:  opts.DefaultProvider,
		fallbackProvider: opts.FallbackProvider,
		defaultMaxTokens: opts.DefaultMaxTokens,
		health:           opts.Health,
		logger:           opts.Logger,
	}, nil
}

// ChatParams is one chat call. Nil/empty fields defer to the alias and then to router defaults.
type ChatParams struct {
	Persona Persona
	History []Turn

	Alias       string
	Provider    string
	MaxTokens   *int
	Temperature *float64
	Metadata    map[string]any

	// Routing hints, forwarded to providers as metadata only.
	CharacterID string
	RoomID      string
	UserID      string
}

// Plan is a fully resolved request ready to send.
type Plan struct {
	// Alias is the resolved alias name, empty when none applied.
	Alias    string
	Provider adapters.Provider
	Request  *types.ChatRequest
}

// Plan resolves alias and provider and merges parameters without calling the provider.
func (r *Router) Plan(p ChatParams, stream bool) (*Plan, error) {
	aliasName := p.Alias
	if aliasName == "" {
		aliasName = r.aliases.Default()
	}
	alias, hasAlias := r.aliases.Lookup(aliasName)
	if !hasAlias {
		aliasName = ""
	}

	wanted := p.Provider
	if wanted == "" && hasAlias {
		wanted = alias.Provider
	}
	if wanted == "" {
		wanted = r.defaultProvider
	}
	provider, err := r.resolveProvider(wanted)
	if err != nil {
		return nil, err
	}

	req := &types.ChatRequest{
		Messages:    buildMessages(p.Persona, p.History),
		Stream:      stream,
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
		CharacterID: p.CharacterID,
		RoomID:      p.RoomID,
		UserID:      p.UserID,
	}
	var aliasMeta map[string]any
	if hasAlias {
		// The alias model names a model of the alias's provider only.
		if provider.Name() == alias.Provider {
			req.Model = alias.Model
		}
		if req.MaxTokens == nil {
			req.MaxTokens = alias.MaxTokens
		}
		if req.Temperature == nil {
			req.Temperature = alias.Temperature
		}
		aliasMeta = alias.Metadata
	}
	if req.MaxTokens == nil && r.defaultMaxTokens > 0 {
		n := r.defaultMaxTokens
		req.MaxTokens = &n
	}
	req.Metadata = mergeMetadata(aliasMeta, p.Metadata)

	return &Plan{Alias: aliasName, Provider: provider, Request: req}, nil
}

// resolveProvider returns the adapter for name, falling back to the fallback
// provider when name is unregistered or its circuit is open.
func (r *Router) resolveProvider(name string) (adapters.Provider, error) {
	fallback, hasFallback := r.registry.Get(r.fallbackProvider)

	if adapter, ok := r.registry.Get(name); ok {
		if hasFallback && r.fallbackProvider != name &&
			!r.health.IsAvailable(name) && r.health.IsAvailable(r.fallbackProvider) {
			r.logger.Warn("provider circuit open, using fallback",
				"provider", name, "fallback", r.fallbackProvider)
			return fallback, nil
		}
		return adapter, nil
	}
	if hasFallback {
		r.logger.Debug("provider not registered, using fallback",
			"provider", name, "fallback", r.fallbackProvider)
		return fallback, nil
	}
	return nil, &types.ConfigurationError{Reason: fmt.Sprintf("provider %q is not registered and no fallback is available", name)}
}

// Chat performs a unary completion. Provider errors are returned as is; the router never retries.
func (r *Router) Chat(ctx context.Context, p ChatParams) (*types.ChatResponse, error) {
	plan, err := r.Plan(p, false)
	if err != nil {
		return nil, err
	}
	name := plan.Provider.Name()
	start := time.Now()
	resp, err := plan.Provider.Complete(ctx, plan.Request)
	r.record(name, err)
	if err != nil {
		r.logger.Error("chat completion failed", "provider", name, "alias", plan.Alias, "error", err)
		return nil, err
	}
	r.logger.Debug("chat completion", "provider", name, "alias", plan.Alias,
		"model", resp.Model, "duration", time.Since(start))
	return resp, nil
}

// Stream opens a vendor stream. The caller owns the returned stream and must Close it.
func (r *Router) Stream(ctx context.Context, p ChatParams) (adapters.TextStream, error) {
	plan, err := r.Plan(p, true)
	if err != nil {
		return nil, err
	}
	name := plan.Provider.Name()
	s, err := plan.Provider.Stream(ctx, plan.Request)
	if err != nil {
		r.record(name, err)
		r.logger.Error("open stream failed", "provider", name, "alias", plan.Alias, "error", err)
		return nil, err
	}
	return &trackedStream{TextStream: s, onClose: func(err error) {
		// A stream abandoned by the caller says nothing about the provider.
		if ctx.Err() == nil {
			r.record(name, err)
		}
	}}, nil
}

// Aliases returns the configured aliases ordered by name.
func (r *Router) Aliases() []Alias {
	return r.aliases.List()
}

// DefaultAlias returns the default alias name.
func (r *Router) DefaultAlias() string {
	return r.aliases.Default()
}

// Providers returns the registered provider names.
func (r *Router) Providers() []string {
	return r.registry.Names()
}

// record feeds the circuit breaker. Only vendor failures count against a provider.
func (r *Router) record(provider string, err error) {
	switch {
	case err == nil:
		r.health.RecordSuccess(provider)
	case types.IsProviderError(err):
		r.health.RecordFailure(provider)
	}
}

func mergeMetadata(base, override map[string]any) map[string]any {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}
	out := make(map[string]any, len(base)+len(override))
	maps.Copy(out, base)
	maps.Copy(out, override)
	return out
}

// trackedStream reports the stream outcome once, on Close.
type trackedStream struct {
	adapters.TextStream
	onClose func(error)
	closed  bool
}

func (s *trackedStream) Close() error {
	if !s.closed {
		s.closed = true
		s.onClose(s.TextStream.Err())
	}
	return s.TextStream.Close()
}

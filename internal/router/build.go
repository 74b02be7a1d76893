package router

import (
	"log/slog"

	"github.com/af-corp/persona-gateway/internal/config"
)

// Build assembles a Router from one configuration snapshot. The health
// tracker is passed in so breaker state survives reloads.
func Build(cfg *config.Config, provCfg *config.ProvidersConfig, aliasCfg *config.AliasesConfig, health *HealthTracker, logger *slog.Logger) (*Router, error) {
	registry := BuildFromConfig(provCfg, logger)

	src := AliasSource{
		JSON:            cfg.AI.AliasesJSON,
		DefaultAlias:    cfg.AI.DefaultAlias,
		DefaultProvider: cfg.AI.DefaultProvider,
	}
	if aliasCfg != nil {
		src.Entries = aliasCfg.Aliases
	}
	aliases, err := ParseAliases(src, registry.Has)
	if err != nil {
		return nil, err
	}

	return New(Options{
		Registry:         registry,
		Aliases:          aliases,
		DefaultProvider:  cfg.AI.DefaultProvider,
		FallbackProvider: cfg.AI.FallbackProvider,
		DefaultMaxTokens: cfg.AI.MaxOutputTokens,
		Health:           health,
		Logger:           logger,
	})
}

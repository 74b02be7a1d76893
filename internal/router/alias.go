package router

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/af-corp/persona-gateway/internal/config"
	"github.com/af-corp/persona-gateway/internal/types"
)

const syntheticAliasName = "default"

// Alias binds a friendly name to a provider, an optional model and parameter defaults.
type Alias struct {
	Name        string         `json:"name"`
	Provider    string         `json:"provider"`
	Model       string         `json:"model,omitempty"`
	MaxTokens   *int           `json:"max_tokens,omitempty"`
	Temperature *float64       `json:"temperature,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// AliasTable is an immutable set of aliases plus the default alias name.
type AliasTable struct {
	aliases     map[string]Alias
	defaultName string
}

// Lookup returns the alias registered under name.
func (t *AliasTable) Lookup(name string) (Alias, bool) {
	if t == nil {
		return Alias{}, false
	}
	a, ok := t.aliases[name]
	return a, ok
}

// Default returns the default alias name, or "" when none is configured.
func (t *AliasTable) Default() string {
	if t == nil {
		return ""
	}
	return t.defaultName
}

// List returns all aliases ordered by name.
func (t *AliasTable) List() []Alias {
	if t == nil {
		return nil
	}
	out := make([]Alias, 0, len(t.aliases))
	for _, name := range slices.Sorted(maps.Keys(t.aliases)) {
		out = append(out, t.aliases[name])
	}
	return out
}

// AliasSource is the raw alias configuration.
type AliasSource struct {
	// Entries come from aliases.yaml.
	Entries map[string]config.AliasConfig
	// JSON is an optional object of alias entries that override Entries by name.
	JSON            string
	DefaultAlias    string
	DefaultProvider string
}

// ParseAliases validates the raw alias configuration into an AliasTable. Entries
// with an unregistered provider or invalid parameters fail the whole parse.
func ParseAliases(src AliasSource, registered func(provider string) bool) (*AliasTable, error) {
	raw := make(map[string]config.AliasConfig, len(src.Entries))
	maps.Copy(raw, src.Entries)

	if blob := strings.TrimSpace(src.JSON); blob != "" {
		var fromJSON map[string]config.AliasConfig
		if err := json.Unmarshal([]byte(blob), &fromJSON); err != nil {
			return nil, &types.ConfigurationError{Reason: fmt.Sprintf("alias JSON is malformed: %v", err)}
		}
		maps.Copy(raw, fromJSON)
	}

	table := &AliasTable{aliases: make(map[string]Alias, len(raw))}
	for name, entry := range raw {
		a, err := newAlias(name, entry, src.DefaultProvider, registered)
		if err != nil {
			return nil, err
		}
		table.aliases[name] = a
	}

	switch {
	case src.DefaultAlias != "":
		if _, ok := table.aliases[src.DefaultAlias]; !ok {
			return nil, &types.ConfigurationError{Reason: fmt.Sprintf("default alias %q is not defined", src.DefaultAlias)}
		}
		table.defaultName = src.DefaultAlias
	case len(table.aliases) == 0:
		table.aliases[syntheticAliasName] = Alias{Name: syntheticAliasName, Provider: src.DefaultProvider}
		table.defaultName = syntheticAliasName
	default:
		if _, ok := table.aliases[syntheticAliasName]; ok {
			table.defaultName = syntheticAliasName
		} else {
			table.defaultName = slices.Min(slices.Collect(maps.Keys(table.aliases)))
		}
	}
	return table, nil
}

func newAlias(name string, entry config.AliasConfig, defaultProvider string, registered func(string) bool) (Alias, error) {
	if strings.TrimSpace(name) == "" {
		return Alias{}, &types.ConfigurationError{Reason: "alias with empty name"}
	}
	provider := entry.Provider
	if provider == "" {
		provider = defaultProvider
	}
	if !registered(provider) {
		return Alias{}, &types.ConfigurationError{Reason: fmt.Sprintf("alias %q references unregistered provider %q", name, provider)}
	}
	if entry.MaxTokens != nil && *entry.MaxTokens <= 0 {
		return Alias{}, &types.ConfigurationError{Reason: fmt.Sprintf("alias %q has non-positive max_tokens", name)}
	}
	if entry.Temperature != nil && *entry.Temperature < 0 {
		return Alias{}, &types.ConfigurationError{Reason: fmt.Sprintf("alias %q has negative temperature", name)}
	}
	return Alias{
		Name:        name,
		Provider:    provider,
		Model:       entry.Model,
		MaxTokens:   entry.MaxTokens,
		Temperature: entry.Temperature,
		Metadata:    maps.Clone(entry.Metadata),
	}, nil
}

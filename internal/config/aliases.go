package config

// AliasesConfig is the contents of aliases.yaml.
type AliasesConfig struct {
	Aliases map[string]AliasConfig `yaml:"aliases"`
}

// AliasConfig is one loosely-typed alias entry. The same shape is accepted from
// the AI_MODEL_ALIASES JSON blob.
type AliasConfig struct {
	Provider    string         `yaml:"provider" json:"provider"`
	Model       string         `yaml:"model" json:"model"`
	MaxTokens   *int           `yaml:"max_tokens" json:"max_tokens"`
	Temperature *float64       `yaml:"temperature" json:"temperature"`
	Metadata    map[string]any `yaml:"metadata" json:"metadata"`
}

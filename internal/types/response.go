package types

// ChatResponse is the normalized result of a unary completion.
type ChatResponse struct {
	Text     string `json:"text"`
	Model    string `json:"model"`
	Provider string `json:"provider,omitempty"`
	Usage    *Usage `json:"usage"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

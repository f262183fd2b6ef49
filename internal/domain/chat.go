package domain

// ChatMessage is the provider-agnostic chat message shape used by the completion
// integration.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatOptions carries the per-turn options handed to the completion service.
type ChatOptions struct {
	Model        string
	Restart      bool
	SystemPrompt string
}

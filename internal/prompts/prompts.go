package prompts

const (
	// DefaultSystem is used when an agent is created without a prompt.
	DefaultSystem = "You are a helpful voice agent on a phone call. Keep responses short, conversational, and free of formatting. Spell out numbers and avoid lists."

	// DefaultGreeting opens speak-first calls for agents without one.
	DefaultGreeting = "Hello, thanks for calling. How can I help you today?"
)

// ForAgent resolves the final system prompt for an agent.
func ForAgent(systemPrompt string) string {
	if systemPrompt != "" {
		return systemPrompt
	}
	return DefaultSystem
}

package chat

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Letter is the short marker used when a transcript is rendered into a prompt:
// "F" (Frage) for the user, "A" (Antwort) for the assistant.
func (r Role) Letter() string {
	if r == RoleUser {
		return "F"
	}
	return "A"
}

// Message is a single turn of a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// UserMessage builds a user turn.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant turn.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// Clone returns a copy of history that shares no backing array with it.
func Clone(history []Message) []Message {
	if history == nil {
		return nil
	}
	out := make([]Message, len(history))
	copy(out, history)
	return out
}

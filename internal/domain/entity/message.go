package entity

import "time"

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "USER"
	RoleAssistant Role = "ASSISTANT"
	RoleSystem    Role = "SYSTEM"
)

// Message is a single conversation turn held by the context manager.
type Message struct {
	Role         Role
	Content      string
	Timestamp    time.Time
	InterfaceTag string

	// Set on assistant messages only.
	ModelUsed     string
	ToolsUsed     []string
	ExecElapsedMs int64
}

// NewUserMessage builds a user turn stamped with the current time.
func NewUserMessage(content, interfaceTag string) Message {
	return Message{
		Role:         RoleUser,
		Content:      content,
		Timestamp:    time.Now(),
		InterfaceTag: interfaceTag,
	}
}

// NewAssistantMessage builds an assistant turn with generation metadata.
func NewAssistantMessage(content, interfaceTag, modelUsed string, toolsUsed []string, elapsedMs int64) Message {
	return Message{
		Role:          RoleAssistant,
		Content:       content,
		Timestamp:     time.Now(),
		InterfaceTag:  interfaceTag,
		ModelUsed:     modelUsed,
		ToolsUsed:     toolsUsed,
		ExecElapsedMs: elapsedMs,
	}
}

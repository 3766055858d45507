// Package generation talks to chat-completions backends and re-segments
// their token streams into paragraphs.
package generation

import "context"

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged entry sent to the backend.
type Message struct {
	Role    Role
	Content string
}

// Request describes one generation call.
type Request struct {
	Messages  []Message
	MaxTokens int
}

// Stream yields incremental text fragments. Recv returns io.EOF once the
// backend has finished. Close releases the upstream call and is safe to
// call more than once.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Backend opens generation streams.
type Backend interface {
	// Name identifies the backend in logs and metrics.
	Name() string
	Stream(ctx context.Context, req Request) (Stream, error)
}

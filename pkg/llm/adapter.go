package llm

import "context"

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

// Request is everything a generator needs for one response: the agent's
// instructions and the conversation so far.
type Request struct {
	System   string
	Messages []Message
}

// Delta is one increment of generated text. A delta with Err set ends the stream.
type Delta struct {
	Text string
	Err  error
}

// Generator streams a response. The channel closes when generation completes;
// cancelling ctx abandons it. A failed stream is never resumed.
type Generator interface {
	Name() string
	Stream(ctx context.Context, req Request) (<-chan Delta, error)
}

// Package model defines the model-call collaborator contract. The engine
// treats the client as opaque: it observes only completion, failure, or a
// sequence of streamed content deltas.
package model

import "context"

// Message is one turn of a conversation prompt.
type Message struct {
	// Role is the speaker ("system", "user", "assistant").
	Role string
	// Content is the message text.
	Content string
}

// Request describes one model call.
type Request struct {
	// Model is the adapter-specific model identifier.
	Model string
	// Prompt is the resolved prompt text. Either Prompt or Messages is set.
	Prompt string
	// Messages is the resolved conversation, when the node builds one.
	Messages []Message
	// Metadata carries adapter-specific options.
	Metadata map[string]any
}

// Usage reports token accounting for a completed call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Response is the result of a buffered model call.
type Response struct {
	// Content is the full completion text.
	Content string
	// Usage is the token accounting, when the adapter reports it.
	Usage Usage
}

// Delta is one streamed content fragment. A Delta with Err set terminates
// the stream with a failure; the channel is closed after the final delta.
type Delta struct {
	// Content is the appended text fragment.
	Content string
	// Usage is reported on the final delta, when available.
	Usage *Usage
	// Err terminates the stream with a failure.
	Err error
}

// Client is the model-call collaborator. Implementations must honor
// context cancellation: an in-flight call is abandoned when ctx is done.
type Client interface {
	// Complete performs a buffered call and returns the full response.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Stream performs a streaming call. The returned channel yields
	// content deltas in order and is closed when the call finishes.
	Stream(ctx context.Context, req Request) (<-chan Delta, error)
}

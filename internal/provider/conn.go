package provider

import "context"

// Button is one selectable action offered by the provider.
// Clicking a reply-keyboard button is just sending its text back.
type Button struct {
	Label string
}

// Message is one inbound provider message.
type Message struct {
	Text    string
	Buttons []Button
}

// Conn is one live connection to the provider on behalf of a single
// automation account. Implementations must be safe for use by one job at a
// time; callers serialize access through the session's exclusive lock.
type Conn interface {
	// Connected reports whether the connection is currently usable.
	Connected() bool
	// SendText sends a text message to the provider.
	SendText(ctx context.Context, text string) error
	// Click presses a button from a previously received message.
	Click(ctx context.Context, b Button) error
	// Next blocks until the next provider message arrives or ctx expires.
	Next(ctx context.Context) (Message, error)
	Close() error
}

// Dialer opens provider connections from account credentials.
type Dialer interface {
	Dial(ctx context.Context, token, name string) (Conn, error)
}

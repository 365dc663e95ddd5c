package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	logx "fetchrelay/pkg/logx"
)

// scriptConn feeds a fixed sequence of messages; once the script is
// exhausted, Next blocks until the read deadline expires.
type scriptConn struct {
	msgs   []Message
	sent   []string
	closed bool
}

func (c *scriptConn) Connected() bool { return !c.closed }

func (c *scriptConn) SendText(ctx context.Context, text string) error {
	c.sent = append(c.sent, text)
	return nil
}

func (c *scriptConn) Click(ctx context.Context, b Button) error {
	c.sent = append(c.sent, b.Label)
	return nil
}

func (c *scriptConn) Next(ctx context.Context) (Message, error) {
	if len(c.msgs) == 0 {
		<-ctx.Done()
		return Message{}, ctx.Err()
	}
	m := c.msgs[0]
	c.msgs = c.msgs[1:]
	return m, nil
}

func (c *scriptConn) Close() error {
	c.closed = true
	return nil
}

func testSettings() Settings {
	return Settings{
		ButtonLabel: "Download",
		Policy: Policy{
			PrimaryKeyword:      "your file",
			SecondaryKeyword:    "license",
			LinkKeyword:         "http",
			EmptyMarker:         "oops, nothing found",
			MalfunctionKeywords: []string{"malfunction", "try again later"},
		},
		ButtonTimeout:       80 * time.Millisecond,
		IntermediateTimeout: 20 * time.Millisecond,
		ResponseTimeout:     40 * time.Millisecond,
		LoopBuffer:          20 * time.Millisecond,
	}
}

func buttonMsg(labels ...string) Message {
	m := Message{Text: "choose an action"}
	for _, l := range labels {
		m.Buttons = append(m.Buttons, Button{Label: l})
	}
	return m
}

func TestRunHappyPath(t *testing.T) {
	t.Parallel()
	conn := &scriptConn{msgs: []Message{
		buttonMsg("Info", "download"), // case-insensitive match
		{Text: "working on it"},       // intermediate ack
		{Text: "Your file is ready: https://files.example.com/a.zip"},
		{Text: "License key here: https://files.example.com/a.key"},
	}}
	e := NewEngine(testSettings(), logx.Nop())

	res, err := e.Run(context.Background(), conn, "http://site/f.zip")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.PrimaryURL != "https://files.example.com/a.zip" {
		t.Fatalf("primary = %q", res.PrimaryURL)
	}
	if res.SecondaryURL != "https://files.example.com/a.key" {
		t.Fatalf("secondary = %q", res.SecondaryURL)
	}
	if len(conn.sent) != 2 || conn.sent[0] != "http://site/f.zip" || conn.sent[1] != "download" {
		t.Fatalf("sent = %v", conn.sent)
	}
}

func TestRunPrimaryOnlyIsSuccess(t *testing.T) {
	t.Parallel()
	conn := &scriptConn{msgs: []Message{
		buttonMsg("Download"),
		{Text: "working on it"},
		{Text: "Your file: https://files.example.com/only.zip"},
	}}
	e := NewEngine(testSettings(), logx.Nop())

	res, err := e.Run(context.Background(), conn, "u")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.PrimaryURL == "" || res.SecondaryURL != "" {
		t.Fatalf("result = %+v", res)
	}
}

func TestRunFailures(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		msgs     []Message
		kind     FailKind
		degrades bool
	}{
		{
			name:     "button not found",
			msgs:     []Message{buttonMsg("Info", "Cancel")},
			kind:     FailButtonNotFound,
			degrades: true,
		},
		{
			name:     "no button offer at all",
			msgs:     []Message{{Text: "hello"}},
			kind:     FailConversationTimeout,
			degrades: true,
		},
		{
			name: "provider reported empty",
			msgs: []Message{
				buttonMsg("Download"),
				{Text: "ack"},
				{Text: "Oops, nothing found for that link"},
			},
			kind:     FailReportedEmpty,
			degrades: false,
		},
		{
			name: "provider malfunction",
			msgs: []Message{
				buttonMsg("Download"),
				{Text: "ack"},
				{Text: "Bot malfunction, try again later"},
			},
			kind:     FailReportedError,
			degrades: true,
		},
		{
			name: "budget spent without primary",
			msgs: []Message{
				buttonMsg("Download"),
				{Text: "ack"},
				{Text: "unrelated chatter"},
			},
			kind:     FailMainURLMissing,
			degrades: false,
		},
		{
			name: "signatures without urls",
			msgs: []Message{
				buttonMsg("Download"),
				{Text: "ack"},
				{Text: "your file is at http"},
				{Text: "license at http"},
			},
			kind:     FailSignaturesNoURL,
			degrades: false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := NewEngine(testSettings(), logx.Nop())
			_, err := e.Run(context.Background(), &scriptConn{msgs: tt.msgs}, "u")
			var f *Failure
			if !errors.As(err, &f) {
				t.Fatalf("err = %v, want *Failure", err)
			}
			if f.Kind != tt.kind {
				t.Fatalf("kind = %v, want %v", f.Kind, tt.kind)
			}
			if f.Degrades() != tt.degrades {
				t.Fatalf("Degrades() = %v, want %v", f.Degrades(), tt.degrades)
			}
		})
	}
}

func TestMalfunctionKeywordWithLinkIsNotError(t *testing.T) {
	t.Parallel()
	conn := &scriptConn{msgs: []Message{
		buttonMsg("Download"),
		{Text: "ack"},
		// Contains a malfunction keyword but also the link keyword, so it
		// must be treated as a legitimate result message.
		{Text: "Your file (repaired after malfunction): https://files.example.com/fixed.zip"},
	}}
	e := NewEngine(testSettings(), logx.Nop())

	res, err := e.Run(context.Background(), conn, "u")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.PrimaryURL != "https://files.example.com/fixed.zip" {
		t.Fatalf("primary = %q", res.PrimaryURL)
	}
}

func TestTransportErrorPassesThrough(t *testing.T) {
	t.Parallel()
	conn := &failSendConn{err: &TransportError{Kind: TransportFloodWait, RetryAfter: time.Minute}}
	e := NewEngine(testSettings(), logx.Nop())

	_, err := e.Run(context.Background(), conn, "u")
	var te *TransportError
	if !errors.As(err, &te) || te.Kind != TransportFloodWait {
		t.Fatalf("err = %v, want flood wait transport error", err)
	}
}

type failSendConn struct {
	scriptConn
	err error
}

func (c *failSendConn) SendText(ctx context.Context, text string) error { return c.err }

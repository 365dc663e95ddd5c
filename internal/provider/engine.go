package provider

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	logx "fetchrelay/pkg/logx"
)

// Settings drives one conversation. Values are snapshotted at Run() start so
// a config reload mid-conversation cannot mix policies.
type Settings struct {
	ButtonLabel string
	Policy      Policy

	ButtonTimeout       time.Duration
	IntermediateTimeout time.Duration
	ResponseTimeout     time.Duration
	// LoopBuffer pads the link-loop budget: budget = 2*ResponseTimeout + LoopBuffer.
	LoopBuffer time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.ButtonTimeout <= 0 {
		s.ButtonTimeout = 30 * time.Second
	}
	if s.IntermediateTimeout <= 0 {
		s.IntermediateTimeout = 15 * time.Second
	}
	if s.ResponseTimeout <= 0 {
		s.ResponseTimeout = 60 * time.Second
	}
	if s.LoopBuffer <= 0 {
		s.LoopBuffer = 10 * time.Second
	}
	return s
}

// Result carries the links extracted from a successful conversation.
// SecondaryURL may be empty; it is optional.
type Result struct {
	PrimaryURL   string
	SecondaryURL string
}

// Engine runs the timed multi-step exchange with the provider. One Engine is
// shared by all jobs; per-conversation state lives on the stack of Run().
type Engine struct {
	log logx.Logger

	mu       sync.Mutex
	settings Settings
}

func NewEngine(settings Settings, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{log: log, settings: settings.withDefaults()}
}

// Apply swaps the engine settings; picked up by the next Run().
func (e *Engine) Apply(settings Settings) {
	e.mu.Lock()
	e.settings = settings.withDefaults()
	e.mu.Unlock()
}

func (e *Engine) snapshot() Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// Run executes the conversation for one job while the caller holds the
// session's exclusive lock. It returns a Result, a *Failure, or a
// *TransportError.
func (e *Engine) Run(ctx context.Context, conn Conn, url string) (Result, error) {
	st := e.snapshot()
	log := e.log.With(logx.String("url", url))

	if err := conn.SendText(ctx, url); err != nil {
		return Result{}, err
	}

	btn, msg, err := e.awaitButton(ctx, conn, st)
	if err != nil {
		return Result{}, err
	}
	log.Debug("provider offered actions", logx.Int("buttons", len(msg.Buttons)), logx.String("picked", btn.Label))

	if err := conn.Click(ctx, btn); err != nil {
		return Result{}, err
	}

	// Intermediate acknowledgement is best-effort; a quiet provider is fine.
	ictx, cancel := context.WithTimeout(ctx, st.IntermediateTimeout)
	if _, err := conn.Next(ictx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		cancel()
		return Result{}, err
	}
	cancel()

	return e.awaitLinks(ctx, conn, st, log)
}

func (e *Engine) awaitButton(ctx context.Context, conn Conn, st Settings) (Button, Message, error) {
	deadline := time.Now().Add(st.ButtonTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Button{}, Message{}, &Failure{Kind: FailConversationTimeout, Detail: "no action offer before deadline"}
		}
		rctx, cancel := context.WithTimeout(ctx, remaining)
		msg, err := conn.Next(rctx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return Button{}, Message{}, &Failure{Kind: FailConversationTimeout, Detail: "no action offer before deadline"}
			}
			return Button{}, Message{}, err
		}
		if len(msg.Buttons) == 0 {
			continue
		}
		for _, b := range msg.Buttons {
			if strings.EqualFold(b.Label, st.ButtonLabel) {
				return b, msg, nil
			}
		}
		return Button{}, Message{}, &Failure{Kind: FailButtonNotFound, Detail: "no action labeled " + st.ButtonLabel}
	}
}

func (e *Engine) awaitLinks(ctx context.Context, conn Conn, st Settings, log logx.Logger) (Result, error) {
	var (
		res          Result
		sawPrimary   bool
		sawSecondary bool
		sawAnyURL    bool
	)
	budget := 2*st.ResponseTimeout + st.LoopBuffer
	deadline := time.Now().Add(budget)
	pol := st.Policy

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		wait := st.ResponseTimeout
		if wait > remaining {
			wait = remaining
		}
		rctx, cancel := context.WithTimeout(ctx, wait)
		msg, err := conn.Next(rctx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				continue
			}
			return Result{}, err
		}

		text := msg.Text
		switch {
		case pol.IsEmpty(text):
			return Result{}, &Failure{Kind: FailReportedEmpty, Detail: "provider reported no result"}
		case pol.IsMalfunction(text):
			return Result{}, &Failure{Kind: FailReportedError, Detail: firstLine(text)}
		case res.PrimaryURL == "" && pol.IsPrimary(text):
			sawPrimary = true
			if u := FirstURL(text); u != "" {
				res.PrimaryURL = u
				sawAnyURL = true
			}
		case res.SecondaryURL == "" && pol.IsSecondary(text):
			sawSecondary = true
			if u := FirstURL(text); u != "" {
				res.SecondaryURL = u
				sawAnyURL = true
			}
		}

		if res.PrimaryURL != "" && res.SecondaryURL != "" {
			return res, nil
		}
	}

	if res.PrimaryURL != "" {
		log.Debug("link loop budget spent; secondary not received", logx.Bool("secondary", res.SecondaryURL != ""))
		return res, nil
	}
	if sawPrimary && sawSecondary && !sawAnyURL {
		return Result{}, &Failure{Kind: FailSignaturesNoURL, Detail: "both signatures observed but no url extracted"}
	}
	return Result{}, &Failure{Kind: FailMainURLMissing, Detail: "primary link not received in time"}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

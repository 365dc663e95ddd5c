package provider

import (
	"fmt"
	"time"
)

// TransportKind classifies provider client errors into the closed taxonomy
// the session pool understands. It deliberately hides the client library's
// own error hierarchy from everything above this package.
type TransportKind int

const (
	TransportUnhandled TransportKind = iota
	TransportFloodWait
	TransportAuthKey
	TransportDeactivated
	TransportExpired
	TransportBlocked
	TransportWriteForbidden
	TransportRPC
	TransportTimeoutConnect
)

func (k TransportKind) String() string {
	switch k {
	case TransportFloodWait:
		return "flood_wait"
	case TransportAuthKey:
		return "auth_key_error"
	case TransportDeactivated:
		return "deactivated"
	case TransportExpired:
		return "expired"
	case TransportBlocked:
		return "blocked"
	case TransportWriteForbidden:
		return "write_forbidden"
	case TransportRPC:
		return "error_rpc"
	case TransportTimeoutConnect:
		return "timeout_connect"
	default:
		return "error_unhandled"
	}
}

// TransportError wraps a provider client error with its classified kind.
// RetryAfter is set for TransportFloodWait.
type TransportError struct {
	Kind       TransportKind
	RetryAfter time.Duration
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider transport %s: %v", e.Kind, e.Err)
	}
	return "provider transport " + e.Kind.String()
}

func (e *TransportError) Unwrap() error { return e.Err }

// FailKind classifies conversation-level outcomes.
type FailKind int

const (
	FailButtonNotFound FailKind = iota
	FailReportedEmpty
	FailReportedError
	FailMainURLMissing
	FailSignaturesNoURL
	FailConversationTimeout
)

func (k FailKind) String() string {
	switch k {
	case FailButtonNotFound:
		return "button_not_found"
	case FailReportedEmpty:
		return "provider_reported_empty"
	case FailReportedError:
		return "provider_reported_error"
	case FailMainURLMissing:
		return "main_url_missing"
	case FailSignaturesNoURL:
		return "signatures_seen_no_url"
	default:
		return "conversation_timeout"
	}
}

// Failure is a terminal conversation outcome that is not a transport error.
type Failure struct {
	Kind   FailKind
	Detail string
}

func (f *Failure) Error() string {
	if f.Detail != "" {
		return fmt.Sprintf("conversation %s: %s", f.Kind, f.Detail)
	}
	return "conversation " + f.Kind.String()
}

// Benign reports whether the failure is a normal "no result" outcome that
// must not be held against the session.
func (f *Failure) Benign() bool { return f.Kind == FailReportedEmpty }

// Degrades reports whether the failure indicates account-level trouble and
// should demote the session.
func (f *Failure) Degrades() bool {
	switch f.Kind {
	case FailButtonNotFound, FailReportedError, FailConversationTimeout:
		return true
	default:
		return false
	}
}

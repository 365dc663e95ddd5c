package session

import (
	"errors"
	"time"

	"fetchrelay/internal/provider"
)

// Kind enumerates the session status variants.
type Kind int

const (
	KindOk Kind = iota
	KindAuthError
	KindDeactivated
	KindExpired
	KindTimeoutConnect
	KindFloodWait
	KindDailyLimit
	KindErrInteraction
	KindErrRPC
	KindErrUnhandled
	KindErrDisconnected
	KindErrMapping
)

// Status is a tagged variant. Until is meaningful only for KindFloodWait,
// Date (a UTC day key) only for KindDailyLimit.
type Status struct {
	Kind  Kind
	Until time.Time
	Date  string
}

func Ok() Status                          { return Status{Kind: KindOk} }
func AuthError() Status                   { return Status{Kind: KindAuthError} }
func Deactivated() Status                 { return Status{Kind: KindDeactivated} }
func Expired() Status                     { return Status{Kind: KindExpired} }
func TimeoutConnect() Status              { return Status{Kind: KindTimeoutConnect} }
func FloodWait(until time.Time) Status    { return Status{Kind: KindFloodWait, Until: until} }
func DailyLimitReached(day string) Status { return Status{Kind: KindDailyLimit, Date: day} }
func ErrInteraction() Status              { return Status{Kind: KindErrInteraction} }
func ErrRPC() Status                      { return Status{Kind: KindErrRPC} }
func ErrUnhandled() Status                { return Status{Kind: KindErrUnhandled} }
func ErrDisconnected() Status             { return Status{Kind: KindErrDisconnected} }
func ErrMapping() Status                  { return Status{Kind: KindErrMapping} }

func (s Status) String() string {
	switch s.Kind {
	case KindOk:
		return "ok"
	case KindAuthError:
		return "auth_key_error"
	case KindDeactivated:
		return "deactivated"
	case KindExpired:
		return "expired"
	case KindTimeoutConnect:
		return "timeout_connect"
	case KindFloodWait:
		return "flood_wait"
	case KindDailyLimit:
		return "daily_limit_reached"
	case KindErrInteraction:
		return "error_interaction"
	case KindErrRPC:
		return "error_rpc"
	case KindErrUnhandled:
		return "error_unhandled"
	case KindErrDisconnected:
		return "error_disconnected"
	default:
		return "error_mapping"
	}
}

// SelfHealing statuses revert to Ok on their own once the condition expires;
// the scheduler checks them lazily during selection.
func (s Status) SelfHealing() bool {
	return s.Kind == KindFloodWait || s.Kind == KindDailyLimit
}

// Sticky statuses require operator remediation and are never auto-cleared.
func (s Status) Sticky() bool {
	switch s.Kind {
	case KindOk, KindFloodWait, KindDailyLimit:
		return false
	default:
		return true
	}
}

// StatusForError translates provider-level errors into a session status.
// Benign conversation failures return (Ok, false): nothing to apply.
func StatusForError(err error, now time.Time) (Status, bool) {
	var te *provider.TransportError
	if errors.As(err, &te) {
		switch te.Kind {
		case provider.TransportFloodWait:
			return FloodWait(now.Add(te.RetryAfter)), true
		case provider.TransportAuthKey:
			return AuthError(), true
		case provider.TransportDeactivated:
			return Deactivated(), true
		case provider.TransportExpired:
			return Expired(), true
		case provider.TransportTimeoutConnect:
			return TimeoutConnect(), true
		case provider.TransportBlocked, provider.TransportWriteForbidden:
			return ErrInteraction(), true
		case provider.TransportRPC:
			return ErrRPC(), true
		default:
			return ErrUnhandled(), true
		}
	}

	var f *provider.Failure
	if errors.As(err, &f) {
		if f.Degrades() {
			return ErrInteraction(), true
		}
		return Ok(), false
	}
	return Ok(), false
}

package portal

import (
	"context"
	"errors"
	"net"
)

// Error classes returned by the portal client. Callers match them with errors.Is.
var (
	// ErrAuth means the login itself was rejected.
	ErrAuth = errors.New("authentication failed")
	// ErrAuthExpired means the portal no longer accepts the session.
	ErrAuthExpired = errors.New("session expired")
	// ErrNetwork covers transport failures, timeouts and server-side errors.
	ErrNetwork = errors.New("network error")
	// ErrMalformedResponse means the portal answered with data that cannot be used.
	ErrMalformedResponse = errors.New("malformed response")
)

// Kind is the coarse error class the monitor loop reacts to.
type Kind int

const (
	KindNone Kind = iota
	KindAuth
	KindNetwork
	KindMalformed
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindAuth:
		return "auth"
	case KindNetwork:
		return "network"
	case KindMalformed:
		return "malformed"
	default:
		return "other"
	}
}

// Classify maps an error to its Kind. Deadline and net.Error timeouts count as network failures.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	switch {
	case errors.Is(err, ErrAuth), errors.Is(err, ErrAuthExpired):
		return KindAuth
	case errors.Is(err, ErrMalformedResponse):
		return KindMalformed
	case errors.Is(err, ErrNetwork), errors.Is(err, context.DeadlineExceeded):
		return KindNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetwork
	}
	return KindOther
}

package dispatcher

import (
	"fmt"

	"github.com/go-go-golems/mastro/pkg/security"
	"github.com/pkg/errors"
)

type Kind string

const (
	KindConfiguration Kind = "configuration"
	KindTransient     Kind = "transient"
	KindTimeout       Kind = "timeout"
	KindConnectivity  Kind = "connectivity"
	KindProtocol      Kind = "protocol"
	KindCanceled      Kind = "canceled"
)

var (
	ErrConfiguration = errors.New("configuration error")
	ErrTransient     = errors.New("transient server error")
	ErrTimeout       = errors.New("request timed out")
	ErrConnectivity  = errors.New("connectivity error")
	ErrProtocol      = errors.New("protocol error")
	ErrCanceled      = errors.New("request canceled")
)

var kindSentinels = map[Kind]error{
	KindConfiguration: ErrConfiguration,
	KindTransient:     ErrTransient,
	KindTimeout:       ErrTimeout,
	KindConnectivity:  ErrConnectivity,
	KindProtocol:      ErrProtocol,
	KindCanceled:      ErrCanceled,
}

// User-facing texts of terminal error replies.
const (
	MessageConfiguration = "Configuration error: API is not properly configured"
	MessageEndpoint      = "Configuration error: endpoint rejected"
	MessageTimeout       = "Request timed out. Please try again."
	MessageConnectivity  = "Network error. Please check your connection."
	MessageInvalidFormat = "Invalid response format from API"
	MessageCanceled      = "Request was cancelled."
	MessageUnexpected    = "An unexpected error occurred. Please try again."
)

// Error is the classified outcome of a failed dispatch. StatusCode is set for
// HTTP failures, Message carries the server's explanation if it gave one.
type Error struct {
	Kind       Kind
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return "dispatch error"
	}
	s := string(e.Kind)
	if e.StatusCode != 0 {
		s = fmt.Sprintf("%s (status %d)", s, e.StatusCode)
	}
	if e.Message != "" {
		s += ": " + e.Message
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	return kindSentinels[e.Kind] == target
}

// Final reports whether the failure cannot change on a manual retry. Bad
// configuration and rejected requests stay rejected; timeouts, network
// failures and an overloaded server may not.
func (e *Error) Final() bool {
	switch e.Kind {
	case KindConfiguration, KindProtocol:
		return true
	case KindTransient, KindTimeout, KindConnectivity, KindCanceled:
		return false
	}
	return true
}

// UserMessage is the text shown in the conversation for this failure.
func (e *Error) UserMessage() string {
	switch e.Kind {
	case KindConfiguration:
		if e.Message != "" {
			return e.Message
		}
		return MessageConfiguration
	case KindTimeout:
		return MessageTimeout
	case KindConnectivity:
		return MessageConnectivity
	case KindCanceled:
		return MessageCanceled
	case KindTransient, KindProtocol:
	}

	if e.Message != "" {
		return e.Message
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("API request failed with status %d", e.StatusCode)
	}
	return MessageUnexpected
}

// endpointRejectedMessage names why the configured endpoint was refused,
// without echoing the URL.
func endpointRejectedMessage(err error) string {
	var endpointErr *security.EndpointError
	if errors.As(err, &endpointErr) && endpointErr.Reason != "" {
		return fmt.Sprintf("%s (%s)", MessageEndpoint, endpointErr.Reason)
	}
	return MessageEndpoint
}

package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind classifies a provider failure for the retry-versus-abort decision.
type Kind string

const (
	// KindTransport: network, timeout or 5xx upstream failure. Retryable.
	KindTransport Kind = "transport"
	// KindRateLimited: the provider asked us to slow down. Retryable.
	KindRateLimited Kind = "rate_limited"
	// KindParse: the response had no usable text. Retryable.
	KindParse Kind = "parse"
	// KindAuth: missing or rejected credentials. Fatal for the document.
	KindAuth Kind = "auth"
	// KindQuota: the account is out of quota. Fatal for the document.
	KindQuota Kind = "quota"
	// KindInvalid: the request itself was rejected. Fatal for the call.
	KindInvalid Kind = "invalid"
)

// Error is the single error type returned by Provider.Generate.
type Error struct {
	Provider string
	Kind     Kind
	Status   int
	Err      error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s error (status %d): %v", e.Provider, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %s error: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a provider name and kind.
func NewError(provider string, kind Kind, err error) *Error {
	return &Error{Provider: provider, Kind: kind, Err: err}
}

// ErrMissingCredentials is wrapped by auth errors raised before any network call.
var ErrMissingCredentials = errors.New("missing credentials")

// ErrRefusal is wrapped by parse errors raised for refusal-looking output.
var ErrRefusal = errors.New("response reads as a refusal")

// KindOf returns the kind of a provider error, or "" for other errors.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsRetryable reports whether err is a transient provider failure.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransport, KindRateLimited, KindParse:
		return true
	}
	return false
}

// IsFatal reports whether err must abort the whole document.
func IsFatal(err error) bool {
	switch KindOf(err) {
	case KindAuth, KindQuota:
		return true
	}
	return false
}

// TransportError classifies errors raised below the HTTP status layer:
// timeouts, cancellations and network failures.
func TransportError(provider string, err error) *Error {
	return NewError(provider, KindTransport, err)
}

// IsNetwork reports whether err came from the network or a deadline.
func IsNetwork(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr)
}

var refusalPhrases = []string{
	"i am unable to",
	"i cannot fulfill",
	"i cannot answer",
	"i cannot provide",
	"as a large language model",
}

// CheckRefusal returns a parse error when text opens like a model refusal.
// Only the opening of the text is inspected so quoted phrases deep inside a
// summary do not trip it.
func CheckRefusal(provider, text string) error {
	head := strings.ToLower(text)
	if len(head) > 300 {
		head = head[:300]
	}
	for _, phrase := range refusalPhrases {
		if strings.Contains(head, phrase) {
			return NewError(provider, KindParse, fmt.Errorf("%w: %q", ErrRefusal, phrase))
		}
	}
	return nil
}

package domain

import "errors"

// Error kinds. A run either returns a summary or exactly one of these,
// wrapped in an *Error carrying the message shown to the user.
var (
	ErrAuth              = errors.New("authentication failed")
	ErrUnreachableSource = errors.New("source unreachable")
	ErrPerItem           = errors.New("item failed")
	ErrExtraction        = errors.New("extraction failed")
	ErrCrypto            = errors.New("crypto failure")
)

// Error is a classified failure. Error() returns only the human-readable
// message; the kind and the underlying cause are reachable through errors.Is.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.Error()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, msg string, err error) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// AuthError reports a missing or rejected credential.
func AuthError(msg string, err error) error { return newError(ErrAuth, msg, err) }

// UnreachableError reports a network or shape failure at a source's entry point.
func UnreachableError(msg string, err error) error { return newError(ErrUnreachableSource, msg, err) }

// ItemError reports a single course or activity that failed mid-run.
func ItemError(msg string, err error) error { return newError(ErrPerItem, msg, err) }

// ExtractionError reports an unparsable document-extraction response.
func ExtractionError(msg string, err error) error { return newError(ErrExtraction, msg, err) }

// CryptoError reports vault misconfiguration or an integrity failure.
func CryptoError(msg string, err error) error { return newError(ErrCrypto, msg, err) }

// Message flattens err into the single string handed back to callers.
func Message(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Error()
	}
	return err.Error()
}

package dynerr

import (
	"errors"
	"fmt"
)

// #region kind
// Kind classifies a failure by how callers are expected to react to it.
type Kind string

const (
	// DataUnavailable: store missing or unreadable. Reads degrade to empty results.
	DataUnavailable Kind = "data_unavailable"
	// MalformedRecord: a row or input record failed to decode or validate.
	MalformedRecord Kind = "malformed_record"
	// DegenerateFit: no reversible edges to fit against.
	DegenerateFit Kind = "degenerate_fit"
	// ConfigError: caller misconfiguration. The only fatal kind.
	ConfigError Kind = "config_error"
)

// #endregion kind

// #region error
// Error carries a Kind, the operation that failed and an optional cause.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Msg != "":
		return fmt.Sprintf("%s: %s: %s: %v", e.Op, e.Kind, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Msg)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same Kind, so errors.Is(err, &Error{Kind: ConfigError}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

// #endregion error

// #region constructors
// New builds an Error with a formatted message.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and operation to err. Returns nil for a nil err.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Config reports an invalid parameter at an API boundary.
func Config(op, format string, args ...any) *Error {
	return New(ConfigError, op, format, args...)
}

// IsKind reports whether any error in err's chain has the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// #endregion constructors

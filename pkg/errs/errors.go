// Package errs defines the error kinds shared by the palladium packages.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	Unknown Kind = iota
	Format
	Argument
	Crypto
	Serialization
	Transport
)

func (k Kind) String() string {
	switch k {
	case Format:
		return "format"
	case Argument:
		return "argument"
	case Crypto:
		return "cryptographic"
	case Serialization:
		return "serialization"
	case Transport:
		return "transport"
	default:
		return "unknown"
	}
}

// Sentinels usable with errors.Is.
var (
	ErrFormat        = errors.New("format error")
	ErrArgument      = errors.New("argument error")
	ErrCrypto        = errors.New("cryptographic error")
	ErrSerialization = errors.New("serialization error")
	ErrTransport     = errors.New("transport error")
)

var sentinels = map[Kind]error{
	Format:        ErrFormat,
	Argument:      ErrArgument,
	Crypto:        ErrCrypto,
	Serialization: ErrSerialization,
	Transport:     ErrTransport,
}

// Error is a kind-tagged error with an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// New creates an error of the given kind.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Message: msg}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags err with a kind. A nil err yields nil.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: msg, Err: err}
}

// IsKind reports whether any error in err's chain has the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if errors.As(err, &e) {
			if e.Kind == kind {
				return true
			}
			err = e.Err
			continue
		}
		return false
	}
	return false
}

// KindOf returns the kind of the outermost tagged error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

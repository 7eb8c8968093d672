package retry

import (
	"errors"
	"fmt"
)

// Kind is the retry classification of an operation failure.
type Kind int

const (
	// Transient failures are retried while attempts remain.
	Transient Kind = iota
	// Terminal failures end the operation after the current attempt.
	Terminal
	// AlreadyDone failures are reports from a remote service that the work is
	// already satisfied; they count as success.
	AlreadyDone
	// Fatal failures are not about the operation at all (storage, configuration)
	// and must abort the caller.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Terminal:
		return "terminal"
	case AlreadyDone:
		return "already_done"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error tags an error with a Kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

func Transientf(format string, args ...any) error {
	return wrap(Transient, fmt.Errorf(format, args...))
}

func Terminalf(format string, args ...any) error {
	return wrap(Terminal, fmt.Errorf(format, args...))
}

func AlreadyDonef(format string, args ...any) error {
	return wrap(AlreadyDone, fmt.Errorf(format, args...))
}

func AsTerminal(err error) error    { return wrap(Terminal, err) }
func AsAlreadyDone(err error) error { return wrap(AlreadyDone, err) }
func AsFatal(err error) error       { return wrap(Fatal, err) }

// KindOf returns the Kind of the outermost tagged error in err's chain, or
// Transient when nothing in the chain is tagged.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Transient
}

func IsTerminal(err error) bool    { return err != nil && KindOf(err) == Terminal }
func IsAlreadyDone(err error) bool { return err != nil && KindOf(err) == AlreadyDone }
func IsFatal(err error) bool       { return err != nil && KindOf(err) == Fatal }

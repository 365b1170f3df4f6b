package domain

import (
	"errors"
	"fmt"
)

// Kind classifies failures so callers branch on outcome rather than on error text.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindNoTargets
	KindTransport
	KindPersistence
	KindUnauthorized
	KindForbidden
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindNoTargets:
		return "no_targets"
	case KindTransport:
		return "transport"
	case KindPersistence:
		return "persistence"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindRateLimited:
		return "rate_limited"
	}
	return "unknown"
}

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost *Error in the chain.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

func IsKind(err error, k Kind) bool { return err != nil && KindOf(err) == k }

var (
	ErrNoTargets   = errors.New("no target users")
	ErrAlreadySent = errors.New("notification already sent")
	ErrNotFound    = errors.New("not found")

	ErrMissingToken = errors.New("missing bearer token")
	ErrBadToken     = errors.New("invalid or expired token")
	ErrAdminOnly    = errors.New("admin access required")
	ErrRateLimited  = errors.New("rate limit exceeded")
)

func Validation(op, format string, args ...any) *Error {
	return E(KindValidation, op, fmt.Errorf(format, args...))
}

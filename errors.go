package mtdynamo

import "fmt"

// Kind classifies the errors the core surfaces to callers, per the error
// kinds enumerated for the shared-table and table-per-tenant façades and
// the streams cache.
type Kind string

const (
	KindNoTenantContext        Kind = "NoTenantContext"
	KindTableNotFound          Kind = "TableNotFound"
	KindTableAlreadyExists     Kind = "TableAlreadyExists"
	KindIncompatibleSchema     Kind = "IncompatibleSchema"
	KindNoCompatibleIndex      Kind = "NoCompatibleIndex"
	KindUnsupportedPredicate   Kind = "UnsupportedPredicate"
	KindUnsupportedOperation   Kind = "UnsupportedOperation"
	KindMalformedPhysicalKey   Kind = "MalformedPhysicalKey"
	KindConditionalCheckFailed Kind = "ConditionalCheckFailed"
	KindLimitExceeded          Kind = "LimitExceeded"
	KindIteratorExpired        Kind = "IteratorExpired"
	KindCancelled              Kind = "Cancelled"
	KindTableCreationTimedOut  Kind = "TableCreationTimedOut"
)

// Error is the error type returned by every mtdynamo package. It carries a
// Kind so callers can branch with errors.As without depending on error text.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mtdynamo: %s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("mtdynamo: %s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, so callers can
// write errors.Is(err, mtdynamo.NewError(mtdynamo.KindTableNotFound, "", nil)).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// NewError constructs an *Error of the given kind.
func NewError(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// Errorf constructs an *Error of the given kind with a formatted message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Kind, true
	}
	return "", false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

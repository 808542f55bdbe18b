package exchange

import "errors"

// ErrorKind classifies every rejection the exchange can produce. Each
// validated precondition maps to exactly one kind; there is no generic
// failure mode.
type ErrorKind uint8

const (
	KindTransferRejected ErrorKind = iota + 1
	KindInsufficientBalance
	KindOrderNotFound
	KindUnauthorized
	KindAlreadyFilled
	KindAlreadyCancelled
	KindInvalidAmount
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransferRejected:
		return "transfer_rejected"
	case KindInsufficientBalance:
		return "insufficient_balance"
	case KindOrderNotFound:
		return "order_not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindAlreadyFilled:
		return "already_filled"
	case KindAlreadyCancelled:
		return "already_cancelled"
	case KindInvalidAmount:
		return "invalid_amount"
	default:
		return "unknown"
	}
}

// Error is a caller-visible rejection. Operations that fail with an Error
// leave exchange state untouched.
type Error struct {
	Kind  ErrorKind
	msg   string
	cause error
}

func newError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, msg: msg}
}

func wrapError(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, msg: msg, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.msg + ": " + e.cause.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.cause }

// IsKind reports whether err is an exchange Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

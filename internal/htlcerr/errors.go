// Package htlcerr defines the error taxonomy shared by the HTLC packages.
//
// Every failure surfaced by the hash lock engine, the lifecycle operations,
// the call inspector and the monitor is an *Error carrying a Kind (the
// taxonomy bucket) and a Code (the specific condition). Callers branch on
// either with errors.As, or on a single condition with errors.Is against the
// exported prototypes:
//
//	if errors.Is(err, htlcerr.ErrNotYetExpired) { ... }
package htlcerr

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Kind is the taxonomy bucket of an error.
type Kind string

const (
	// KindValidation covers malformed input rejected before any network interaction.
	KindValidation Kind = "validation"
	// KindPermission covers a wrong caller or a missing proxy-unlock grant.
	KindPermission Kind = "permission"
	// KindState covers missing, resolved, expired or not-yet-expired entries.
	KindState Kind = "state"
	// KindCrypto covers preimage mismatches and unsupported hash types.
	KindCrypto Kind = "crypto"
	// KindNetwork covers query and submission failures. Always recoverable.
	KindNetwork Kind = "network"
)

// Code identifies the specific failure condition.
type Code string

const (
	CodeInvalidAddress          Code = "INVALID_ADDRESS"
	CodeInvalidAmount           Code = "INVALID_AMOUNT"
	CodeInsufficientBalance     Code = "INSUFFICIENT_BALANCE"
	CodeInvalidDuration         Code = "INVALID_DURATION"
	CodeInvalidHashLock         Code = "INVALID_HASH_LOCK"
	CodeInvalidPreimageEncoding Code = "INVALID_PREIMAGE_ENCODING"
	CodeInvalidPreimageLength   Code = "INVALID_PREIMAGE_LENGTH"
	CodeUnknownSelector         Code = "UNKNOWN_SELECTOR"
	CodeArgumentCountMismatch   Code = "ARGUMENT_COUNT_MISMATCH"
	CodeNotHtlcCall             Code = "NOT_HTLC_CALL"

	CodePermissionDenied Code = "PERMISSION_DENIED"

	CodeHtlcNotFound    Code = "HTLC_NOT_FOUND"
	CodeBlockNotFound   Code = "BLOCK_NOT_FOUND"
	CodeNotYetExpired   Code = "NOT_YET_EXPIRED"
	CodeExpired         Code = "EXPIRED"
	CodeAlreadyResolved Code = "ALREADY_RESOLVED"

	CodePreimageMismatch    Code = "PREIMAGE_MISMATCH"
	CodeUnsupportedHashType Code = "UNSUPPORTED_HASH_TYPE"

	CodeNetwork Code = "NETWORK"
)

var codeKinds = map[Code]Kind{
	CodeInvalidAddress:          KindValidation,
	CodeInvalidAmount:           KindValidation,
	CodeInsufficientBalance:     KindValidation,
	CodeInvalidDuration:         KindValidation,
	CodeInvalidHashLock:         KindValidation,
	CodeInvalidPreimageEncoding: KindValidation,
	CodeInvalidPreimageLength:   KindValidation,
	CodeUnknownSelector:         KindValidation,
	CodeArgumentCountMismatch:   KindValidation,
	CodeNotHtlcCall:             KindValidation,
	CodePermissionDenied:        KindPermission,
	CodeHtlcNotFound:            KindState,
	CodeBlockNotFound:           KindState,
	CodeNotYetExpired:           KindState,
	CodeExpired:                 KindState,
	CodeAlreadyResolved:         KindState,
	CodePreimageMismatch:        KindCrypto,
	CodeUnsupportedHashType:     KindCrypto,
	CodeNetwork:                 KindNetwork,
}

// KindOf returns the taxonomy bucket for a code.
func KindOf(code Code) Kind {
	return codeKinds[code]
}

// Prototypes for errors.Is matching. Only the Code is compared.
var (
	ErrInvalidAddress          = &Error{Kind: KindValidation, Code: CodeInvalidAddress}
	ErrInvalidAmount           = &Error{Kind: KindValidation, Code: CodeInvalidAmount}
	ErrInsufficientBalance     = &Error{Kind: KindValidation, Code: CodeInsufficientBalance}
	ErrInvalidDuration         = &Error{Kind: KindValidation, Code: CodeInvalidDuration}
	ErrInvalidHashLock         = &Error{Kind: KindValidation, Code: CodeInvalidHashLock}
	ErrInvalidPreimageEncoding = &Error{Kind: KindValidation, Code: CodeInvalidPreimageEncoding}
	ErrInvalidPreimageLength   = &Error{Kind: KindValidation, Code: CodeInvalidPreimageLength}
	ErrUnknownSelector         = &Error{Kind: KindValidation, Code: CodeUnknownSelector}
	ErrArgumentCountMismatch   = &Error{Kind: KindValidation, Code: CodeArgumentCountMismatch}
	ErrNotHtlcCall             = &Error{Kind: KindValidation, Code: CodeNotHtlcCall}
	ErrPermissionDenied        = &Error{Kind: KindPermission, Code: CodePermissionDenied}
	ErrHtlcNotFound            = &Error{Kind: KindState, Code: CodeHtlcNotFound}
	ErrBlockNotFound           = &Error{Kind: KindState, Code: CodeBlockNotFound}
	ErrNotYetExpired           = &Error{Kind: KindState, Code: CodeNotYetExpired}
	ErrExpired                 = &Error{Kind: KindState, Code: CodeExpired}
	ErrAlreadyResolved         = &Error{Kind: KindState, Code: CodeAlreadyResolved}
	ErrPreimageMismatch        = &Error{Kind: KindCrypto, Code: CodePreimageMismatch}
	ErrUnsupportedHashType     = &Error{Kind: KindCrypto, Code: CodeUnsupportedHashType}
	ErrNetwork                 = &Error{Kind: KindNetwork, Code: CodeNetwork}
)

// Error is the structured error type used across the HTLC packages.
type Error struct {
	// Kind is the taxonomy bucket.
	Kind Kind

	// Code identifies the failure condition.
	Code Code

	// Message is a human-readable description.
	Message string

	// ID is the HTLC id involved, zero when not applicable.
	ID common.Hash

	// Remaining is the time left until expiration (NOT_YET_EXPIRED only).
	Remaining time.Duration

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	} else {
		msg = fmt.Sprintf("%s: %s", e.Code, msg)
	}
	if e.ID != (common.Hash{}) {
		msg = fmt.Sprintf("%s (id=%s)", msg, e.ID.Hex())
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New creates an Error for code with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Kind:    KindOf(code),
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates an Error for code around an underlying cause.
func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{
		Kind:    KindOf(code),
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// Network wraps a query or submission failure. An error that is already
// classified as NETWORK is returned as is.
func Network(err error, op string) *Error {
	var e *Error
	if errors.As(err, &e) && e.Code == CodeNetwork {
		return e
	}
	return Wrap(CodeNetwork, err, "%s", op)
}

// WithID returns a copy of e annotated with an HTLC id.
func (e *Error) WithID(id common.Hash) *Error {
	c := *e
	c.ID = id
	return &c
}

// NotYetExpired builds the state error reported by Reclaim on a live entry.
func NotYetExpired(id common.Hash, remaining time.Duration) *Error {
	return &Error{
		Kind:      KindState,
		Code:      CodeNotYetExpired,
		Message:   fmt.Sprintf("htlc expires in %s", remaining),
		ID:        id,
		Remaining: remaining,
	}
}

// As extracts the *Error from err, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the Code of err, or "" when err is not an *Error.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return ""
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return IsKind(err, KindValidation) }

// IsPermission reports whether err is a permission error.
func IsPermission(err error) bool { return IsKind(err, KindPermission) }

// IsState reports whether err is a state error.
func IsState(err error) bool { return IsKind(err, KindState) }

// IsCrypto reports whether err is a crypto error.
func IsCrypto(err error) bool { return IsKind(err, KindCrypto) }

// IsNetwork reports whether err is a network error.
func IsNetwork(err error) bool { return IsKind(err, KindNetwork) }

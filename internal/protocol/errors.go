// Package protocol defines the wire message shapes and the typed protocol
// error codes shared between the validator, mempool, and peer session layers.
package protocol

import "fmt"

// ErrorCode is one of the twelve wire error names.
type ErrorCode string

const (
	InternalError         ErrorCode = "INTERNAL_ERROR"
	InvalidFormat         ErrorCode = "INVALID_FORMAT"
	UnknownObject         ErrorCode = "UNKNOWN_OBJECT"
	UnfindableObject      ErrorCode = "UNFINDABLE_OBJECT"
	InvalidHandshake      ErrorCode = "INVALID_HANDSHAKE"
	InvalidTxOutpoint     ErrorCode = "INVALID_TX_OUTPOINT"
	InvalidTxSignature    ErrorCode = "INVALID_TX_SIGNATURE"
	InvalidTxConservation ErrorCode = "INVALID_TX_CONSERVATION"
	InvalidBlockCoinbase  ErrorCode = "INVALID_BLOCK_COINBASE"
	InvalidBlockTimestamp ErrorCode = "INVALID_BLOCK_TIMESTAMP"
	InvalidBlockPoW       ErrorCode = "INVALID_BLOCK_POW"
	InvalidGenesis        ErrorCode = "INVALID_GENESIS"
)

// CodedError is a protocol error carrying one of the wire error codes.
// The session layer maps it directly to an `error` message; any non-CodedError
// that escapes a handler is reported as INTERNAL_ERROR.
type CodedError struct {
	Code ErrorCode
	Msg  string
}

func (e *CodedError) Error() string {
	if e.Msg == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// Errorf constructs a CodedError with a formatted description.
func Errorf(code ErrorCode, format string, args ...interface{}) *CodedError {
	return &CodedError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// New constructs a CodedError with a plain description.
func New(code ErrorCode, msg string) *CodedError {
	return &CodedError{Code: code, Msg: msg}
}

// CodeOf extracts the wire error code from err, defaulting to INTERNAL_ERROR
// for any error that isn't a *CodedError.
func CodeOf(err error) ErrorCode {
	if ce, ok := err.(*CodedError); ok {
		return ce.Code
	}
	return InternalError
}

// Closes reports whether a session must close the connection after emitting
// this error. Only malformed framing and a failed handshake are fatal; every
// other coded error is reported and the session continues.
func Closes(code ErrorCode) bool {
	return code == InvalidFormat || code == InvalidHandshake
}

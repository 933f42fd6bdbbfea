// SPDX-License-Identifier: GPL-3.0-or-later

package mssql

import "fmt"

// ErrorKind classifies a [*Error] per the error taxonomy of spec §7.
type ErrorKind string

const (
	// KindWire covers framing, TLS, timeout, and peer-reset failures.
	// The owning connection transitions to Dirty.
	KindWire ErrorKind = "wire"

	// KindProtocol covers unexpected token tags, malformed lengths, and
	// COLMETADATA/ROW arity mismatches. The owning connection
	// transitions to Dirty.
	KindProtocol ErrorKind = "protocol"

	// KindServer wraps a TDS ERROR token with severity >= 11.
	KindServer ErrorKind = "server"

	// KindAuth covers a missing/failed LOGINACK, a JWT parse failure or
	// audience mismatch, or an expired federated-auth token.
	KindAuth ErrorKind = "auth"

	// KindCatalog covers object-not-found, object-not-a-table-or-view,
	// unsupported type, and missing-primary-key-when-required.
	KindCatalog ErrorKind = "catalog"

	// KindPlan covers plan-time rejections: identity-column insert,
	// primary-key column update, DML on a PK-less table, rowid on a
	// view, or a cross-catalog operation that would require MARS.
	KindPlan ErrorKind = "plan"

	// KindDML covers a failed DML statement, carrying row-range context.
	KindDML ErrorKind = "dml"

	// KindCancelled covers a stream transitioned by a cooperative
	// cancellation signal.
	KindCancelled ErrorKind = "cancelled"
)

// Error is the typed error value surfaced to the host engine (spec §6
// Outbound: Errors; spec §7).
//
// Every Error carries a stable "MSSQL: " message prefix so host-engine
// error surfaces can recognize and format it distinctly from errors
// originating elsewhere.
type Error struct {
	Kind    ErrorKind
	Message string

	// StatementIndex, RowOffsetStart, and RowOffsetEnd are populated for
	// KindDML errors: the 0-based index of the failing statement within
	// its batch and the row range it covered.
	StatementIndex int
	RowOffsetStart int
	RowOffsetEnd   int

	// ServerErrorNumber and ServerErrorMessage carry the originating TDS
	// ERROR token fields for KindServer and KindDML errors.
	ServerErrorNumber int32
	ServerErrorMessage string

	// Err wraps the underlying cause, if any (a wire I/O error, a
	// context.DeadlineExceeded, etc).
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Kind == KindDML {
		return fmt.Sprintf("MSSQL: %s (statement %d, rows %d-%d)",
			e.Message, e.StatementIndex, e.RowOffsetStart, e.RowOffsetEnd)
	}
	return "MSSQL: " + e.Message
}

// Unwrap supports errors.Is/errors.As against the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewWireError wraps a low-level I/O failure as a [KindWire] [*Error].
func NewWireError(err error) *Error {
	return &Error{Kind: KindWire, Message: err.Error(), Err: err}
}

// NewProtocolError reports a framing or token-stream decode violation.
func NewProtocolError(message string) *Error {
	return &Error{Kind: KindProtocol, Message: message}
}

// NewServerError wraps a TDS ERROR token with severity >= 11.
func NewServerError(number int32, message string) *Error {
	return &Error{
		Kind:               KindServer,
		Message:            message,
		ServerErrorNumber:  number,
		ServerErrorMessage: message,
	}
}

// NewDMLError reports a failed statement within a batch, carrying the row
// range the host engine should treat as not applied.
func NewDMLError(statementIndex, rowStart, rowEnd int, serverNumber int32, serverMessage string) *Error {
	return &Error{
		Kind:               KindDML,
		Message:            serverMessage,
		StatementIndex:     statementIndex,
		RowOffsetStart:     rowStart,
		RowOffsetEnd:       rowEnd,
		ServerErrorNumber:  serverNumber,
		ServerErrorMessage: serverMessage,
	}
}

// NewCatalogError reports an object-not-found or similar catalog-level
// failure.
func NewCatalogError(message string) *Error {
	return &Error{Kind: KindCatalog, Message: message}
}

// NewPlanError reports a plan-time rejection: an operation that is
// structurally impossible rather than merely failed at runtime.
func NewPlanError(message string) *Error {
	return &Error{Kind: KindPlan, Message: message}
}

// NewAuthError reports a LOGINACK or federated-token failure.
func NewAuthError(message string) *Error {
	return &Error{Kind: KindAuth, Message: message}
}

// NewCancelledError reports a stream transitioned by cooperative
// cancellation.
func NewCancelledError(message string) *Error {
	return &Error{Kind: KindCancelled, Message: message}
}

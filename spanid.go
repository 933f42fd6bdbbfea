// SPDX-License-Identifier: GPL-3.0-or-later

package mssql

import (
	"github.com/bassosimone/runtimex"
	"github.com/google/uuid"
)

// NewSpanID returns a UUIDv7 representing a span.
//
// A span is a sequence of operations that can fail in a single, specific
// way: establishing one connection, binding and draining one result stream,
// flushing one writer batch. Attach the span ID to the logger with
// [*slog.Logger.With] so related log entries correlate.
//
// This function panics if the system random number generator fails, which
// should only happen under extraordinary circumstances.
func NewSpanID() string {
	return runtimex.PanicOnError1(uuid.NewV7()).String()
}

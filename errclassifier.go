// SPDX-License-Identifier: GPL-3.0-or-later

package mssql

import "github.com/hugr-lab/mssql-extension/internal/errclass"

// ErrClassifier classifies errors into categorical strings for analysis.
//
// Implementations map errors to short, descriptive labels (e.g.,
// "connection_timed_out", "dirty_connection") that feed the errClass field
// of structured log events and let operators group failures without
// parsing error strings.
type ErrClassifier interface {
	Classify(err error) string
}

// ErrClassifierFunc adapts a function to the [ErrClassifier] interface.
//
// This allows using simple functions as classifiers:
//
//	cfg.ErrClassifier = ErrClassifierFunc(errclass.New)
type ErrClassifierFunc func(error) string

var _ ErrClassifier = ErrClassifierFunc(nil)

// Classify implements [ErrClassifier].
func (f ErrClassifierFunc) Classify(err error) string {
	return f(err)
}

// DefaultErrClassifier delegates to internal/errclass, which classifies
// timeouts, EOF, and OS-level socket errors by errno. The TDS-specific
// labels errclass defines (dirty connection, protocol violation, server
// error) are never returned by it.
var DefaultErrClassifier = ErrClassifierFunc(errclass.New)

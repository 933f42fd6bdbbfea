// SPDX-License-Identifier: GPL-3.0-or-later

package mssql

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hugr-lab/mssql-extension/internal/errclass"
)

func TestDefaultErrClassifier(t *testing.T) {
	// Should return empty string for nil error.
	result := DefaultErrClassifier.Classify(nil)
	assert.Equal(t, "", result)

	// Should classify known errors using internal/errclass.
	result = DefaultErrClassifier.Classify(context.DeadlineExceeded)
	assert.Equal(t, errclass.ETIMEDOUT, result)

	// Should return EGENERIC for unknown errors.
	result = DefaultErrClassifier.Classify(errors.New("unknown error"))
	assert.Equal(t, errclass.EGENERIC, result)
}

func TestErrClassifierFuncAdapts(t *testing.T) {
	calls := 0
	classifier := ErrClassifierFunc(func(err error) string {
		calls++
		return "custom"
	})

	got := classifier.Classify(errors.New("boom"))
	assert.Equal(t, "custom", got)
	assert.Equal(t, 1, calls)
}

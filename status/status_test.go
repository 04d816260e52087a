// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package status

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestOf(t *testing.T) {
	assert.Equal(t, OK, Of(nil))

	err := Errorf(ErrSizeMismatch, "binding %q", "buffer0")
	assert.Equal(t, SizeMismatch, Of(err))
	assert.True(t, errors.Is(err, ErrSizeMismatch))
	assert.Contains(t, err.Error(), "buffer0")
	assert.Contains(t, err.Error(), "size mismatch")

	// Wrapping further keeps the code.
	assert.Equal(t, SizeMismatch, Of(errors.WithMessage(err, "while committing")))

	// Errors from outside this package are driver errors.
	assert.Equal(t, HardwareFailure, Of(errors.New("npu timeout")))
}

func TestCodeString(t *testing.T) {
	assert.Equal(t, "PartialUpdate", PartialUpdate.String())
	assert.Equal(t, "Code(99)", Code(99).String())
}

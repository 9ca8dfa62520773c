// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package ingest

import (
	"errors"
	"fmt"

	"github.com/tomtom215/threatwatch/internal/models"
	"github.com/tomtom215/threatwatch/internal/validation"
)

var (
	// ErrValidation is wrapped by every *ValidationError.
	ErrValidation = errors.New("invalid submission")

	// ErrClassification is wrapped by every *ClassificationError. The
	// submission may be retried.
	ErrClassification = errors.New("submission could not be classified")
)

// ValidationError reports a malformed submission. No event was created.
type ValidationError struct {
	fields *validation.RequestValidationError
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrValidation, e.fields.Error())
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// APIError returns the VALIDATION_ERROR body describing the failed fields.
func (e *ValidationError) APIError() *models.APIError {
	return e.fields.ToAPIError()
}

// ClassificationError reports a classifier failure. No event was created.
type ClassificationError struct {
	Err error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("%s: %v", ErrClassification, e.Err)
}

func (e *ClassificationError) Unwrap() []error { return []error{ErrClassification, e.Err} }

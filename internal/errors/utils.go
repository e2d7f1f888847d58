package errors

import (
	"errors"
)

// Wrap wraps an error with additional context, creating a DocError if the
// input is not already one.
func Wrap(err error, errType ErrorType, code, message string) *DocError {
	if err == nil {
		return nil
	}

	var de *DocError
	if errors.As(err, &de) {
		return &DocError{
			Type:        errType,
			Code:        code,
			Message:     message,
			Cause:       de,
			Context:     de.Context,
			Component:   de.Component,
			FilePath:    de.FilePath,
			Recoverable: de.Recoverable,
		}
	}

	return newError(errType, code, message, err)
}

// WrapIO wraps an error as an I/O error.
func WrapIO(err error, code, message string) *DocError {
	return Wrap(err, ErrorTypeIO, code, message)
}

// WrapEnrichment wraps an error as an enrichment error.
func WrapEnrichment(err error, code, message string) *DocError {
	return Wrap(err, ErrorTypeEnrichment, code, message)
}

// WrapDelivery wraps an error as a delivery error (non-recoverable at the
// pipeline level; the dispatcher already retried).
func WrapDelivery(err error, code, message string) *DocError {
	de := Wrap(err, ErrorTypeDelivery, code, message)
	if de != nil {
		de.Recoverable = false
	}
	return de
}

// WrapSecurity wraps an error as a security error (non-recoverable).
func WrapSecurity(err error, code, message string) *DocError {
	de := Wrap(err, ErrorTypeSecurity, code, message)
	if de != nil {
		de.Recoverable = false
	}
	return de
}

// Combine joins non-nil errors; it returns nil when all are nil.
func Combine(errs ...error) error {
	return errors.Join(errs...)
}

package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// FieldViolation names one field that failed schema validation.
type FieldViolation struct {
	Field   string `json:"field"`
	Tag     string `json:"tag,omitempty"`
	Message string `json:"message"`
}

// ValidationError is returned for malformed or incomplete input. Nothing has been written.
type ValidationError struct {
	Fields []FieldViolation
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Message
	}
	return strings.Join(msgs, "; ")
}

// FieldNames lists the violated fields in order.
func (e *ValidationError) FieldNames() []string {
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = f.Field
	}
	return names
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: []FieldViolation{{Field: field, Message: message}}}
}

// AuthenticationError is returned when a webhook signature or session is missing or wrong.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	return "authentication failed: " + e.Reason
}

type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found", e.Resource)
}

type ForbiddenError struct {
	Reason string
}

func (e *ForbiddenError) Error() string {
	return e.Reason
}

type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	return e.Reason
}

// TransientDeliveryError reports a best-effort delivery that did not reach anyone.
// Callers log it and carry on; persistence has already succeeded.
type TransientDeliveryError struct {
	Op  string
	Err error
}

func (e *TransientDeliveryError) Error() string {
	if e.Err == nil {
		return e.Op + ": delivery skipped"
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *TransientDeliveryError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a TransientDeliveryError.
func IsTransient(err error) bool {
	var te *TransientDeliveryError
	return stderrors.As(err, &te)
}

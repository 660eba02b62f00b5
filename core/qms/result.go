package qms

import (
	"errors"
	"fmt"
)

type RejectionCode string

const (
	// CodePreconditionFailed marks a transition whose source state matched
	// but whose guard condition did not; Field names what is missing.
	CodePreconditionFailed RejectionCode = "precondition_failed"
	// CodeInvalidTransition marks an action that is not defined for the
	// record's current state at all.
	CodeInvalidTransition RejectionCode = "invalid_transition"
	// CodeValidationError marks malformed input, e.g. a risk factor outside
	// its allowed range.
	CodeValidationError RejectionCode = "validation_error"
)

// Rejection is the recoverable business-rule failure returned by the workflow
// core. Callers inspect it and surface the missing condition to the user; it
// is never a programming error.
type Rejection struct {
	Code    RejectionCode `json:"code"`
	Field   string        `json:"field,omitempty"`
	Message string        `json:"message"`
}

func (r *Rejection) Error() string {
	if r.Field != "" {
		return fmt.Sprintf("%s: %s (%s)", r.Code, r.Message, r.Field)
	}
	return fmt.Sprintf("%s: %s", r.Code, r.Message)
}

// NewPreconditionFailed builds the rejection for a guard that did not hold.
func NewPreconditionFailed(field, message string) *Rejection {
	return &Rejection{Code: CodePreconditionFailed, Field: field, Message: message}
}

// NewValidationError builds the rejection for malformed input.
func NewValidationError(field, message string) *Rejection {
	return &Rejection{Code: CodeValidationError, Field: field, Message: message}
}

func preconditionFailed(field, message string) *Rejection {
	return NewPreconditionFailed(field, message)
}

func invalidTransition(message string) *Rejection {
	return &Rejection{Code: CodeInvalidTransition, Message: message}
}

func validationError(field, message string) *Rejection {
	return NewValidationError(field, message)
}

// AsRejection unwraps err into a Rejection when the failure is a business-rule
// outcome rather than an infrastructure error.
func AsRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

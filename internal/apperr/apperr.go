package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrCapacityExhausted     = errors.New("no slots available for this vehicle type")
	ErrVehicleTypeNotOffered = errors.New("vehicle type not offered at this space")
	ErrDuplicateID           = errors.New("id already exists")
	ErrInvalidTransition     = errors.New("invalid booking status transition")
	ErrOverRelease           = errors.New("slot pool already at total capacity")
	ErrUpstreamPayment       = errors.New("payment gateway error")
	ErrPaymentNotSucceeded   = errors.New("payment not successful")
	ErrForbidden             = errors.New("forbidden")
	ErrConflict              = errors.New("changed concurrently, retry")
)

// FieldError describes one rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects every field problem found in a request.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Add records a field problem.
func (e *ValidationError) Add(field, format string, args ...any) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// OrNil returns e as an error if any field was recorded, nil otherwise.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

// Invalid is a shorthand for a single-field validation error.
func Invalid(field, format string, args ...any) error {
	v := &ValidationError{}
	v.Add(field, format, args...)
	return v
}

// HTTPStatus maps an error from the domain layer to an HTTP status code.
func HTTPStatus(err error) int {
	var verr *ValidationError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrCapacityExhausted), errors.Is(err, ErrDuplicateID), errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrVehicleTypeNotOffered):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrPaymentNotSucceeded):
		return http.StatusPaymentRequired
	case errors.Is(err, ErrUpstreamPayment):
		return http.StatusBadGateway
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	default:
		// ErrOverRelease lands here: it is a defect, not a caller mistake.
		return http.StatusInternalServerError
	}
}

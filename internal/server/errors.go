// Package server provides the HTTP REST API for the admissions engine.
package server

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// ErrRunNotFound indicates the run does not exist
type ErrRunNotFound struct {
	RunID uuid.UUID
}

func (e *ErrRunNotFound) Error() string {
	return fmt.Sprintf("run not found: %s", e.RunID)
}

// ErrApplicantNotFound indicates the applicant does not exist
type ErrApplicantNotFound struct {
	ApplicantID uuid.UUID
}

func (e *ErrApplicantNotFound) Error() string {
	return fmt.Sprintf("applicant not found: %s", e.ApplicantID)
}

// ErrRunState indicates the run is in the wrong state for the operation
type ErrRunState struct {
	RunID  uuid.UUID
	Status string
	Wanted string
}

func (e *ErrRunState) Error() string {
	return fmt.Sprintf("run %s is %s, operation requires %s", e.RunID, e.Status, e.Wanted)
}

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	switch err.(type) {
	case *ErrRunNotFound, *ErrApplicantNotFound:
		return http.StatusNotFound
	case *ErrRunState:
		return http.StatusConflict
	case *ErrValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

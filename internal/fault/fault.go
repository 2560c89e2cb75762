// Package fault defines the error kinds validation and invariant enforcement
// return. Callers distinguish them with errors.As and map each kind to its
// own transport response; they are never conflated into a generic failure.
package fault

import (
	"fmt"
	"strings"
)

// FieldViolation names one offending field inside a ValidationError.
type FieldViolation struct {
	FieldID string `json:"field_id,omitempty"`
	Name    string `json:"name,omitempty"`
	Reason  string `json:"reason"`
}

// ValidationError reports malformed or semantically illegal input. All
// violations of one class are collected so a form can surface every problem
// in a single round trip.
type ValidationError struct {
	Msg        string
	Violations []FieldViolation
}

func (e ValidationError) Error() string {
	if len(e.Violations) == 0 {
		return e.Msg
	}
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		label := v.Name
		if label == "" {
			label = v.FieldID
		}
		if label == "" {
			parts = append(parts, v.Reason)
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", label, v.Reason))
	}
	return e.Msg + ": " + strings.Join(parts, "; ")
}

// Validation builds a ValidationError without field details.
func Validation(format string, args ...any) ValidationError {
	return ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ConflictError reports a well-formed request that violates a uniqueness or
// cardinality invariant (duplicate slug, second organization, last owner).
type ConflictError struct {
	Msg string
}

func (e ConflictError) Error() string { return e.Msg }

// Conflict builds a ConflictError.
func Conflict(format string, args ...any) ConflictError {
	return ConflictError{Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a missing or inactive referenced entity.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e NotFoundError) Error() string {
	if e.ID == "" {
		return e.Kind + " not found"
	}
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// NotFound builds a NotFoundError for an entity kind and id.
func NotFound(kind, id string) NotFoundError {
	return NotFoundError{Kind: kind, ID: id}
}

// AuthorizationError reports an actor whose role is insufficient for the
// requested mutation.
type AuthorizationError struct {
	Msg string
}

func (e AuthorizationError) Error() string { return e.Msg }

// Forbidden builds an AuthorizationError.
func Forbidden(format string, args ...any) AuthorizationError {
	return AuthorizationError{Msg: fmt.Sprintf(format, args...)}
}

package schema

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"trackline/internal/domain"
	"trackline/internal/fault"
)

// DateLayout is the canonical calendar-date form for date fields.
const DateLayout = "2006-01-02"

// Kind tags a parsed field value.
type Kind int

const (
	KindText Kind = iota
	KindNumber
	KindDate
	KindBool
	KindOption
)

// Value is the tagged variant a stored text value parses into for
// validation. Canonical() re-serializes it to the text form the storage
// layer keeps, so the schema stays storage-agnostic while validators work
// with real types.
type Value struct {
	Kind   Kind
	Text   string
	Number float64
	Date   time.Time
	Bool   bool
	Option string
}

// Canonical returns the text form persisted for the value.
func (v Value) Canonical() string {
	switch v.Kind {
	case KindNumber:
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	case KindDate:
		return v.Date.Format(DateLayout)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindOption:
		return v.Option
	default:
		return v.Text
	}
}

// Parse interprets raw input under the field's declared input type.
func Parse(f domain.Field, raw string) (Value, error) {
	switch f.InputType {
	case domain.FieldNumber:
		n, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || math.IsInf(n, 0) || math.IsNaN(n) {
			return Value{}, fmt.Errorf("%q is not a finite number", raw)
		}
		return Value{Kind: KindNumber, Number: n}, nil
	case domain.FieldDate:
		d, err := time.Parse(DateLayout, strings.TrimSpace(raw))
		if err != nil {
			return Value{}, fmt.Errorf("%q is not a date in %s form", raw, DateLayout)
		}
		return Value{Kind: KindDate, Date: d}, nil
	case domain.FieldCheckbox:
		// The storage column is textual, so the boolean is exactly one of
		// the two literal strings.
		switch raw {
		case "true":
			return Value{Kind: KindBool, Bool: true}, nil
		case "false":
			return Value{Kind: KindBool, Bool: false}, nil
		}
		return Value{}, fmt.Errorf("%q is not \"true\" or \"false\"", raw)
	case domain.FieldSelect, domain.FieldRadio:
		for _, opt := range f.Options {
			if raw == opt {
				return Value{Kind: KindOption, Option: raw}, nil
			}
		}
		return Value{}, fmt.Errorf("%q is not one of the declared options", raw)
	default:
		return Value{Kind: KindText, Text: raw}, nil
	}
}

// Candidate is one proposed {field_id, value} pair.
type Candidate struct {
	FieldID string
	Value   *string
}

// Normalized is a validated pair ready for persistence.
type Normalized struct {
	FieldID string
	Value   *string
}

// ValidateValues enforces the value contract for one task type: assignment
// first, then required-ness, then type conformance. The classes short-circuit
// in that order but every violation within a class is collected, so a form
// can highlight all problems in one round trip. existing holds already
// stored values keyed by field id, consulted when validating a partial
// update.
func ValidateValues(assigned []domain.Field, candidates []Candidate, existing map[string]string) ([]Normalized, error) {
	byID := make(map[string]domain.Field, len(assigned))
	for _, f := range assigned {
		byID[f.ID] = f
	}

	var unassigned []fault.FieldViolation
	for _, c := range candidates {
		if _, ok := byID[c.FieldID]; !ok {
			unassigned = append(unassigned, fault.FieldViolation{
				FieldID: c.FieldID,
				Reason:  "not assigned to task type",
			})
		}
	}
	if len(unassigned) > 0 {
		return nil, fault.ValidationError{Msg: "field not assigned to task type", Violations: unassigned}
	}

	candidateByID := make(map[string]Candidate, len(candidates))
	for _, c := range candidates {
		candidateByID[c.FieldID] = c
	}

	var missing []fault.FieldViolation
	for _, f := range assigned {
		if !f.IsRequired {
			continue
		}
		if c, ok := candidateByID[f.ID]; ok {
			if c.Value != nil && strings.TrimSpace(*c.Value) != "" {
				continue
			}
			// An explicit null or blank clears the value even when a stored
			// one exists.
			missing = append(missing, fault.FieldViolation{FieldID: f.ID, Name: f.Name, Reason: "required"})
			continue
		}
		if stored, ok := existing[f.ID]; ok && strings.TrimSpace(stored) != "" {
			continue
		}
		missing = append(missing, fault.FieldViolation{FieldID: f.ID, Name: f.Name, Reason: "required"})
	}
	if len(missing) > 0 {
		return nil, fault.ValidationError{Msg: "required field missing", Violations: missing}
	}

	var invalid []fault.FieldViolation
	var out []Normalized
	for _, c := range candidates {
		f := byID[c.FieldID]
		if c.Value == nil || strings.TrimSpace(*c.Value) == "" {
			// Empty is legal here; required-ness was settled above.
			out = append(out, Normalized{FieldID: c.FieldID, Value: nil})
			continue
		}
		v, err := Parse(f, *c.Value)
		if err != nil {
			invalid = append(invalid, fault.FieldViolation{FieldID: f.ID, Name: f.Name, Reason: err.Error()})
			continue
		}
		canon := v.Canonical()
		out = append(out, Normalized{FieldID: c.FieldID, Value: &canon})
	}
	if len(invalid) > 0 {
		return nil, fault.ValidationError{Msg: "invalid value for field", Violations: invalid}
	}
	return out, nil
}

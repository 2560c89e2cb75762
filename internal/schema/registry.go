// Package schema validates custom field definitions and the values tasks
// carry for them. It is pure decision logic; persistence stays with the
// caller.
package schema

import (
	"sort"
	"strings"

	"trackline/internal/domain"
	"trackline/internal/fault"
)

// DefaultMaxNameLength bounds field names when the project settings do not
// override it.
const DefaultMaxNameLength = 255

var inputTypes = map[string]bool{
	domain.FieldText:     true,
	domain.FieldTextarea: true,
	domain.FieldNumber:   true,
	domain.FieldDate:     true,
	domain.FieldSelect:   true,
	domain.FieldCheckbox: true,
	domain.FieldRadio:    true,
}

// HasOptions reports whether the input type carries a declared option list.
func HasOptions(inputType string) bool {
	return inputType == domain.FieldSelect || inputType == domain.FieldRadio
}

// ValidateDefinition checks a field definition before it is persisted.
func ValidateDefinition(f domain.Field, maxNameLength int) error {
	if maxNameLength <= 0 {
		maxNameLength = DefaultMaxNameLength
	}
	name := strings.TrimSpace(f.Name)
	if name == "" {
		return fault.Validation("field name is required")
	}
	if len(name) > maxNameLength {
		return fault.Validation("field name exceeds %d characters", maxNameLength)
	}
	if !inputTypes[f.InputType] {
		return fault.Validation("unknown input type %q", f.InputType)
	}
	if len(f.Options) > 0 && !HasOptions(f.InputType) {
		return fault.Validation("options are only allowed for select and radio fields")
	}
	if f.DefaultValue != "" {
		if _, err := Parse(f, f.DefaultValue); err != nil {
			return fault.Validation("default value: %v", err)
		}
	}
	return nil
}

// SortForForm orders fields the way forms render them: required fields
// first, then alphabetically by name. This ordering is a user-facing
// contract.
func SortForForm(fields []domain.Field) {
	sort.SliceStable(fields, func(i, j int) bool {
		if fields[i].IsRequired != fields[j].IsRequired {
			return fields[i].IsRequired
		}
		return fields[i].Name < fields[j].Name
	})
}

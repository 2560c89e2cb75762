package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trackline/internal/domain"
	"trackline/internal/fault"
	"trackline/internal/schema"
)

func str(s string) *string { return &s }

func testFields() []domain.Field {
	return []domain.Field{
		{ID: "f-title", Name: "Summary", InputType: domain.FieldText},
		{ID: "f-est", Name: "Estimate", InputType: domain.FieldNumber},
		{ID: "f-due", Name: "Due", InputType: domain.FieldDate, IsRequired: true},
		{ID: "f-done", Name: "Done", InputType: domain.FieldCheckbox},
		{ID: "f-prio", Name: "Priority", InputType: domain.FieldSelect, Options: []string{"Low", "Medium", "High"}},
	}
}

func TestParseNumber(t *testing.T) {
	f := domain.Field{InputType: domain.FieldNumber}
	v, err := schema.Parse(f, " 42.50 ")
	require.NoError(t, err)
	assert.Equal(t, schema.KindNumber, v.Kind)
	assert.Equal(t, "42.5", v.Canonical())

	_, err = schema.Parse(f, "not-a-number")
	assert.Error(t, err)
	_, err = schema.Parse(f, "NaN")
	assert.Error(t, err)
	_, err = schema.Parse(f, "Inf")
	assert.Error(t, err)
}

func TestParseDate(t *testing.T) {
	f := domain.Field{InputType: domain.FieldDate}
	v, err := schema.Parse(f, "2025-03-09")
	require.NoError(t, err)
	assert.Equal(t, "2025-03-09", v.Canonical())

	_, err = schema.Parse(f, "03/09/2025")
	assert.Error(t, err)
	_, err = schema.Parse(f, "2025-13-40")
	assert.Error(t, err)
}

func TestParseCheckbox(t *testing.T) {
	f := domain.Field{InputType: domain.FieldCheckbox}
	v, err := schema.Parse(f, "true")
	require.NoError(t, err)
	assert.Equal(t, "true", v.Canonical())

	for _, raw := range []string{"True", "TRUE", "yes", "1", ""} {
		_, err := schema.Parse(f, raw)
		assert.Error(t, err, "raw=%q", raw)
	}
}

func TestParseSelectIsCaseSensitive(t *testing.T) {
	f := domain.Field{InputType: domain.FieldSelect, Options: []string{"Low", "High"}}
	v, err := schema.Parse(f, "High")
	require.NoError(t, err)
	assert.Equal(t, "High", v.Canonical())

	_, err = schema.Parse(f, "high")
	assert.Error(t, err)
}

func TestValidateValuesUnassignedField(t *testing.T) {
	_, err := schema.ValidateValues(testFields(), []schema.Candidate{
		{FieldID: "f-unknown", Value: str("x")},
		{FieldID: "f-other", Value: str("y")},
		{FieldID: "f-due", Value: str("2025-01-01")},
	}, nil)
	var ve fault.ValidationError
	require.ErrorAs(t, err, &ve)
	// Both unknown fields collected, nothing else checked yet.
	assert.Len(t, ve.Violations, 2)
}

func TestValidateValuesRequiredMissing(t *testing.T) {
	_, err := schema.ValidateValues(testFields(), []schema.Candidate{
		{FieldID: "f-title", Value: str("hello")},
	}, nil)
	var ve fault.ValidationError
	require.ErrorAs(t, err, &ve)
	require.Len(t, ve.Violations, 1)
	assert.Equal(t, "f-due", ve.Violations[0].FieldID)
}

func TestValidateValuesStoredValueSatisfiesRequired(t *testing.T) {
	out, err := schema.ValidateValues(testFields(), []schema.Candidate{
		{FieldID: "f-title", Value: str("hello")},
	}, map[string]string{"f-due": "2025-01-01"})
	require.NoError(t, err)
	require.Len(t, out, 1)
}

func TestValidateValuesExplicitNullClearsRequired(t *testing.T) {
	// Clearing a required field fails even when a stored value exists.
	_, err := schema.ValidateValues(testFields(), []schema.Candidate{
		{FieldID: "f-due", Value: nil},
	}, map[string]string{"f-due": "2025-01-01"})
	var ve fault.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "required", ve.Violations[0].Reason)
}

func TestValidateValuesCollectsAllTypeViolations(t *testing.T) {
	_, err := schema.ValidateValues(testFields(), []schema.Candidate{
		{FieldID: "f-due", Value: str("2025-01-01")},
		{FieldID: "f-est", Value: str("abc")},
		{FieldID: "f-done", Value: str("maybe")},
		{FieldID: "f-prio", Value: str("urgent")},
	}, nil)
	var ve fault.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Violations, 3)
}

func TestValidateValuesCanonicalizes(t *testing.T) {
	out, err := schema.ValidateValues(testFields(), []schema.Candidate{
		{FieldID: "f-due", Value: str("2025-01-01")},
		{FieldID: "f-est", Value: str("3.1400")},
	}, nil)
	require.NoError(t, err)
	byID := map[string]*string{}
	for _, n := range out {
		byID[n.FieldID] = n.Value
	}
	require.NotNil(t, byID["f-est"])
	assert.Equal(t, "3.14", *byID["f-est"])
}

func TestValidateValuesEmptyOptionalBecomesNil(t *testing.T) {
	out, err := schema.ValidateValues(testFields(), []schema.Candidate{
		{FieldID: "f-due", Value: str("2025-01-01")},
		{FieldID: "f-title", Value: str("  ")},
	}, nil)
	require.NoError(t, err)
	byID := map[string]*string{}
	for _, n := range out {
		byID[n.FieldID] = n.Value
	}
	assert.Nil(t, byID["f-title"])
}

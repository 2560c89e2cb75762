package schema_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trackline/internal/domain"
	"trackline/internal/schema"
)

func TestValidateDefinition(t *testing.T) {
	ok := domain.Field{Name: "Estimate", InputType: domain.FieldNumber}
	require.NoError(t, schema.ValidateDefinition(ok, 0))

	cases := []struct {
		name  string
		field domain.Field
	}{
		{"blank name", domain.Field{Name: "   ", InputType: domain.FieldText}},
		{"unknown input type", domain.Field{Name: "X", InputType: "slider"}},
		{"options on text field", domain.Field{Name: "X", InputType: domain.FieldText, Options: []string{"A"}}},
		{"default fails its own type", domain.Field{Name: "X", InputType: domain.FieldNumber, DefaultValue: "soon"}},
		{"default not a declared option", domain.Field{Name: "X", InputType: domain.FieldSelect, Options: []string{"A", "B"}, DefaultValue: "C"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, schema.ValidateDefinition(tc.field, 0))
		})
	}
}

func TestValidateDefinitionNameLength(t *testing.T) {
	f := domain.Field{Name: strings.Repeat("a", 40), InputType: domain.FieldText}
	assert.Error(t, schema.ValidateDefinition(f, 30))
	assert.NoError(t, schema.ValidateDefinition(f, 40))
}

func TestHasOptions(t *testing.T) {
	assert.True(t, schema.HasOptions(domain.FieldSelect))
	assert.True(t, schema.HasOptions(domain.FieldRadio))
	assert.False(t, schema.HasOptions(domain.FieldText))
	assert.False(t, schema.HasOptions(domain.FieldCheckbox))
}

func TestSortForForm(t *testing.T) {
	fields := []domain.Field{
		{Name: "Zeta"},
		{Name: "Beta", IsRequired: true},
		{Name: "Alpha"},
		{Name: "Delta", IsRequired: true},
	}
	schema.SortForForm(fields)
	var names []string
	for _, f := range fields {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"Beta", "Delta", "Alpha", "Zeta"}, names)
}

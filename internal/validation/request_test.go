package validation

import (
	"strings"
	"testing"

	"lfgkeeper/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestValidateIdentifier(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		value string
		ok    bool
	}{
		{name: "snowflake", value: "123456789012345678", ok: true},
		{name: "slug", value: "guild_main-1", ok: true},
		{name: "empty", value: "", ok: false},
		{name: "space", value: "a b", ok: false},
		{name: "symbol", value: "a!b", ok: false},
		{name: "maximum length", value: strings.Repeat("a", 64), ok: true},
		{name: "too long", value: strings.Repeat("a", 65), ok: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateIdentifier("actor", tc.value)
			if tc.ok && err != nil {
				t.Fatalf("expected valid identifier, got error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatalf("expected invalid identifier, got nil error")
			}
		})
	}
}

func TestValidateDomainAndCategory(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ValidateDomain("valorant"))
	assert.NoError(t, ValidateDomain("league-of-legends"))
	assert.Error(t, ValidateDomain("Valorant"))
	assert.Error(t, ValidateDomain("-x"))

	assert.NoError(t, ValidateCategory(models.CategorySeekingPlacement))
	assert.ErrorIs(t, ValidateCategory("seeking-snacks"), models.ErrValidation)
}

func TestValidatePayload(t *testing.T) {
	t.Parallel()

	schema := &models.DomainSchema{
		Category: models.CategorySeekingMembers,
		Domain:   "valorant",
		Fields: []models.FieldDescriptor{
			{ID: "rank", Label: "Rank", Required: true, MaxLength: 20},
			{ID: "notes", MaxLength: 5},
		},
	}

	tests := []struct {
		name    string
		payload map[string]string
		ok      bool
	}{
		{name: "required only", payload: map[string]string{"rank": "gold"}, ok: true},
		{name: "with optional", payload: map[string]string{"rank": "gold", "notes": "chill"}, ok: true},
		{name: "missing required", payload: map[string]string{"notes": "hi"}, ok: false},
		{name: "blank required", payload: map[string]string{"rank": "   "}, ok: false},
		{name: "too long", payload: map[string]string{"rank": "gold", "notes": "toolong"}, ok: false},
		{name: "unicode counted by rune", payload: map[string]string{"rank": "gold", "notes": "ÅÅÅÅÅ"}, ok: true},
		{name: "unknown field", payload: map[string]string{"rank": "gold", "mic": "yes"}, ok: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePayload(schema, tc.payload)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, models.ErrValidation)
			}
		})
	}

	assert.ErrorIs(t, ValidatePayload(nil, nil), models.ErrValidation)
}

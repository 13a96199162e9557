package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"lfgkeeper/internal/models"
)

var identifierRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

var domainRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,63}$`)

// ValidateIdentifier checks actor, scope and reviewer ids.
func ValidateIdentifier(field, value string) error {
	if !identifierRegex.MatchString(value) {
		return models.NewValidationError(fmt.Sprintf("%s must be 1-64 characters of letters, digits, '-' or '_'", field))
	}
	return nil
}

// ValidateDomain checks a game/activity key.
func ValidateDomain(domain string) error {
	if !domainRegex.MatchString(domain) {
		return models.NewValidationError("domain must be lowercase letters, digits and hyphens")
	}
	return nil
}

// ValidateCategory rejects unknown categories.
func ValidateCategory(category models.Category) error {
	if !category.Valid() {
		return models.NewValidationError(fmt.Sprintf("unknown category %q", category))
	}
	return nil
}

// ValidatePayload checks payload against schema: required fields present and non-blank,
// lengths within MaxLength, and no fields the schema does not declare.
func ValidatePayload(schema *models.DomainSchema, payload map[string]string) error {
	if schema == nil {
		return models.NewValidationError("no schema for this category and domain")
	}

	known := make(map[string]struct{}, len(schema.Fields))
	for _, f := range schema.Fields {
		known[f.ID] = struct{}{}

		value, ok := payload[f.ID]
		if f.Required && (!ok || strings.TrimSpace(value) == "") {
			return models.NewValidationError(fmt.Sprintf("%s is required", labelOf(f)))
		}
		if f.MaxLength > 0 && utf8.RuneCountInString(value) > f.MaxLength {
			return models.NewValidationError(fmt.Sprintf("%s must be at most %d characters", labelOf(f), f.MaxLength))
		}
	}

	for key := range payload {
		if _, ok := known[key]; !ok {
			return models.NewValidationError(fmt.Sprintf("unexpected field %q", key))
		}
	}
	return nil
}

func labelOf(f models.FieldDescriptor) string {
	if f.Label != "" {
		return f.Label
	}
	return f.ID
}

package service

import (
	"regexp"

	"github.com/matt-riley/engage/internal/repository"
)

// Placeholders are case-insensitive and tolerate whitespace inside the
// braces: {{ Customer.Name }} and {{customer.name}} both substitute.
var (
	customerNamePattern  = regexp.MustCompile(`(?i){{\s*customer\.name\s*}}`)
	customerEmailPattern = regexp.MustCompile(`(?i){{\s*customer\.email\s*}}`)
	userFullNamePattern  = regexp.MustCompile(`(?i){{\s*user\.fullName\s*}}`)
	userPositionPattern  = regexp.MustCompile(`(?i){{\s*user\.position\s*}}`)
	userEmailPattern     = regexp.MustCompile(`(?i){{\s*user\.email\s*}}`)
)

// replaceKeys substitutes customer and user fields into an engage template's
// content, producing the finalized conversation text.
func replaceKeys(content string, customer repository.Customer, user repository.User) string {
	// Literal replacement: field values are user data, never group references,
	// so a "$" in a name must survive substitution untouched.
	result := customerNamePattern.ReplaceAllLiteralString(content, customer.Name)
	result = customerEmailPattern.ReplaceAllLiteralString(result, customer.Email)
	result = userFullNamePattern.ReplaceAllLiteralString(result, user.FullName)
	result = userPositionPattern.ReplaceAllLiteralString(result, user.Position)
	result = userEmailPattern.ReplaceAllLiteralString(result, user.Email)

	return result
}

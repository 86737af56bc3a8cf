// Package validation provides custom validation rules for the application.
package validation

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"
	validation "github.com/jellydator/validation"

	apperrors "github.com/allisson/offline-sync/internal/errors"
)

var (
	// identifierRegex matches names that are safe to splice into table names and URL paths.
	identifierRegex = regexp.MustCompile(`^[a-z][a-z0-9_]{0,47}$`)
)

// WrapValidationError wraps validation errors as domain ErrInvalidInput
func WrapValidationError(err error) error {
	if err == nil {
		return nil
	}
	return apperrors.Wrap(apperrors.ErrInvalidInput, err.Error())
}

// Identifier validates lowercase snake_case names used for domains and entity types.
var Identifier = validation.NewStringRuleWithError(
	func(s string) bool {
		return identifierRegex.MatchString(s)
	},
	validation.NewError(
		"validation_identifier",
		"must start with a lowercase letter and contain only lowercase letters, digits or underscores (max 48)",
	),
)

// UUID validates the canonical textual form of a UUID.
var UUID = validation.NewStringRuleWithError(
	func(s string) bool {
		_, err := uuid.Parse(s)
		return err == nil
	},
	validation.NewError("validation_uuid", "must be a valid UUID"),
)

// JSONObject validates that a raw JSON document is an object.
var JSONObject = validation.By(func(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return validation.NewError("validation_json_type", "must be a JSON document")
	}
	if len(raw) == 0 {
		return nil // Let Required handle empty payloads
	}
	trimmed := bytes.TrimSpace(raw)
	if !json.Valid(trimmed) || len(trimmed) == 0 || trimmed[0] != '{' {
		return validation.NewError("validation_json_object", "must be a JSON object")
	}
	return nil
})

// NoWhitespace rejects values with leading or trailing whitespace, such as pasted owner IDs.
var NoWhitespace = validation.NewStringRuleWithError(
	func(s string) bool {
		return s == strings.TrimSpace(s)
	},
	validation.NewError("validation_no_whitespace", "must not contain leading or trailing whitespace"),
)

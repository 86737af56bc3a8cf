// Package adapter describes the sync domains the engine serves. Each domain contributes
// a name used in remote endpoints, an entity type used for local tables and queue rows,
// and an optional JSON schema that payloads must satisfy before they are stored.
package adapter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	validation "github.com/jellydator/validation"
	"github.com/santhosh-tekuri/jsonschema/v6"

	apperrors "github.com/allisson/offline-sync/internal/errors"
	customValidation "github.com/allisson/offline-sync/internal/validation"
)

// ErrUnknownDomain is returned when a domain name is not registered.
var ErrUnknownDomain = apperrors.Wrap(apperrors.ErrNotFound, "unknown sync domain")

// Adapter parameterizes the generic engine for one domain.
type Adapter interface {
	// Name is the endpoint segment: /sync/{name}/push, /ws/{name}.
	Name() string
	// EntityType keys queue rows and names the local table.
	EntityType() string
	// Validate rejects payloads that do not fit the domain's record shape.
	Validate(payload json.RawMessage) error
}

// Definition is the declarative form of an adapter, as found in the registry file.
type Definition struct {
	Name       string `yaml:"name"`
	EntityType string `yaml:"entity_type"`
	// Schema is an inline JSON schema document. Empty accepts any JSON object.
	Schema string `yaml:"schema"`
}

// Validate checks the definition's identifiers.
func (d *Definition) Validate() error {
	return validation.ValidateStruct(d,
		validation.Field(&d.Name, validation.Required, customValidation.Identifier),
		validation.Field(&d.EntityType, validation.Required, customValidation.Identifier),
	)
}

// SchemaAdapter is an Adapter backed by an optional compiled JSON schema.
type SchemaAdapter struct {
	name       string
	entityType string
	schema     *jsonschema.Schema
}

// New builds an adapter from a definition, compiling its schema when present.
func New(def Definition) (*SchemaAdapter, error) {
	if err := def.Validate(); err != nil {
		return nil, customValidation.WrapValidationError(err)
	}

	a := &SchemaAdapter{name: def.Name, entityType: def.EntityType}
	if strings.TrimSpace(def.Schema) == "" {
		return a, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(def.Schema))
	if err != nil {
		return nil, fmt.Errorf("failed to parse schema for domain %s: %w", def.Name, err)
	}

	url := fmt.Sprintf("https://offline-sync.local/schemas/%s.json", def.Name)
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("failed to add schema for domain %s: %w", def.Name, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema for domain %s: %w", def.Name, err)
	}
	a.schema = schema
	return a, nil
}

// Name implements Adapter.
func (a *SchemaAdapter) Name() string { return a.name }

// EntityType implements Adapter.
func (a *SchemaAdapter) EntityType() string { return a.entityType }

// Validate implements Adapter. Payloads must be JSON objects and, when a schema is
// configured, satisfy it. Failures wrap ErrInvalidInput.
func (a *SchemaAdapter) Validate(payload json.RawMessage) error {
	if err := validation.Validate(payload, validation.Required, customValidation.JSONObject); err != nil {
		return customValidation.WrapValidationError(fmt.Errorf("payload: %w", err))
	}
	if a.schema == nil {
		return nil
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return customValidation.WrapValidationError(fmt.Errorf("payload: %w", err))
	}
	if err := a.schema.Validate(inst); err != nil {
		return customValidation.WrapValidationError(fmt.Errorf("payload does not match %s schema: %w", a.name, err))
	}
	return nil
}

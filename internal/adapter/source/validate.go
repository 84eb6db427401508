package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/kaptinlin/jsonschema"

	"agntschat/internal/domain"
)

// Descriptor field limits.
const (
	MaxNameLength        = 100
	MaxDescriptionLength = 500
)

// Per-kind configuration shapes. Custom sources accept any JSON value.
var kindSchemas = map[domain.SourceKind]string{
	domain.SourceLocalFiles: `{
		"type": "object",
		"required": ["filePath"],
		"properties": {
			"filePath": {"type": "string", "minLength": 1},
			"supportedExtensions": {
				"type": "array",
				"minItems": 1,
				"items": {"type": "string", "pattern": "^\\.[^.\\s]+$"}
			},
			"maxFileSizeBytes": {"type": "integer", "exclusiveMinimum": 0, "maximum": 104857600}
		}
	}`,
	domain.SourceWebAPI: `{
		"type": "object",
		"properties": {"endpoint": {"type": "string"}}
	}`,
	domain.SourceDatabase: `{
		"type": "object",
		"properties": {"connectionString": {"type": "string", "pattern": "\\S"}}
	}`,
	domain.SourceSharePoint: `{
		"type": "object",
		"properties": {"siteUrl": {"type": "string"}}
	}`,
}

// Validator checks source descriptors before they are stored or enabled.
type Validator struct {
	factory domain.SourceFactory
	schemas map[domain.SourceKind]*jsonschema.Schema
}

// NewValidator compiles the configuration schemas. The factory is used for
// the final live check of kinds that have an implementation.
func NewValidator(factory domain.SourceFactory) (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	schemas := make(map[domain.SourceKind]*jsonschema.Schema, len(kindSchemas))
	for kind, s := range kindSchemas {
		schema, err := compiler.Compile([]byte(s))
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", kind, err)
		}
		schemas[kind] = schema
	}
	return &Validator{factory: factory, schemas: schemas}, nil
}

// ValidateDescriptor returns an ErrInvalidInput error describing the first
// problem found in d, or nil.
func (v *Validator) ValidateDescriptor(ctx context.Context, d domain.ContextSourceDescriptor) error {
	if err := v.validate(ctx, d); err != nil {
		return domain.NewDomainError("Validator.ValidateDescriptor", domain.ErrInvalidInput, err.Error())
	}
	return nil
}

func (v *Validator) validate(ctx context.Context, d domain.ContextSourceDescriptor) error {
	name := strings.TrimSpace(d.Name)
	if name == "" {
		return fmt.Errorf("name is required")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return fmt.Errorf("name exceeds %d characters", MaxNameLength)
	}
	if utf8.RuneCountInString(d.Description) > MaxDescriptionLength {
		return fmt.Errorf("description exceeds %d characters", MaxDescriptionLength)
	}
	if !d.Kind.Valid() {
		return fmt.Errorf("unknown kind %q", d.Kind)
	}

	raw := d.Configuration
	if len(strings.TrimSpace(string(raw))) == 0 {
		raw = json.RawMessage("{}")
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("configuration is not valid JSON: %v", err)
	}
	if schema, ok := v.schemas[d.Kind]; ok {
		if result := schema.Validate(doc); !result.IsValid() {
			return fmt.Errorf("configuration: %s", result.Error())
		}
	}

	if err := checkKind(d.Kind, doc); err != nil {
		return err
	}

	d.Configuration = raw
	res := v.factory.Build(d)
	switch {
	case res.Err != nil:
		return res.Err
	case res.Source != nil:
		if !res.Source.ValidateConfiguration(ctx) {
			return fmt.Errorf("%s source configuration failed its live check", d.Kind)
		}
	}
	return nil
}

// checkKind applies the rules a schema cannot express.
func checkKind(kind domain.SourceKind, doc any) error {
	fields, _ := doc.(map[string]any)
	switch kind {
	case domain.SourceLocalFiles:
		path, _ := fields["filePath"].(string)
		if err := checkReadable(path); err != nil {
			return fmt.Errorf("file path: %v", err)
		}
	case domain.SourceWebAPI:
		if endpoint, ok := fields["endpoint"].(string); ok {
			u, err := url.Parse(endpoint)
			if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return fmt.Errorf("endpoint must be an absolute http or https URL")
			}
		}
	case domain.SourceSharePoint:
		if site, ok := fields["siteUrl"].(string); ok {
			u, err := url.Parse(site)
			if err != nil || !u.IsAbs() || u.Host == "" {
				return fmt.Errorf("siteUrl must be an absolute URL")
			}
		}
	}
	return nil
}

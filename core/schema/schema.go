// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package schema

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/xeipuuv/gojsonschema"
)

// Validator is a utility to validate JSON objects against a given schema
type Validator struct {
	schemaValidators map[string]*gojsonschema.Schema
}

// NewValidatorFromFS creates a new Validator using schemas from schemaFS. Json files
// from the root directory will be used as toplevel schemas, identified by their "$id".
func NewValidatorFromFS(schemaFS embed.FS) (*Validator, error) {
	var schemas []string
	files, err := schemaFS.ReadDir(".")
	if err != nil {
		return nil, fmt.Errorf("cannot read schema dir %w", err)
	}
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		str, err := schemaFS.ReadFile(f.Name())
		if err != nil {
			return nil, fmt.Errorf("cannot read file '%s' %w", f.Name(), err)
		}
		schemas = append(schemas, string(str))
	}
	return NewValidator(schemas)
}

// NewValidator creates a new Validator using schemas for the top level JSON schemas.
// Top level schemas cannot reference each other.
func NewValidator(schemas []string) (*Validator, error) {
	type schema struct {
		ID string `json:"$id"`
	}
	validator := Validator{schemaValidators: make(map[string]*gojsonschema.Schema)}
	for _, str := range schemas {
		s := schema{}
		err := json.Unmarshal([]byte(str), &s)
		if err != nil {
			return nil, fmt.Errorf("parse error '%v' in schema: '%s'", err, str)
		}
		if s.ID == "" {
			return nil, fmt.Errorf("schema lacks an $id: '%s'", str)
		}
		loader := gojsonschema.NewStringLoader(str)
		schemaValidator, err := gojsonschema.NewSchema(loader)
		if err != nil {
			return nil, fmt.Errorf("cannot compile schema '%s': %w", s.ID, err)
		}
		validator.schemaValidators[s.ID] = schemaValidator
	}
	return &validator, nil
}

// HasSchema returns true if the validator knows the schema with the given id
func (v *Validator) HasSchema(schemaID string) bool {
	if v == nil {
		return false
	}
	_, ok := v.schemaValidators[schemaID]
	return ok
}

// ValidateString validates the passed JSON document against the schema with the
// given id. It returns an error describing all violations, or nil if the
// document is valid.
func (v *Validator) ValidateString(document, schemaID string) error {
	schemaValidator, ok := v.schemaValidators[schemaID]
	if !ok {
		return fmt.Errorf("unknown schema '%s'", schemaID)
	}
	result, err := schemaValidator.Validate(gojsonschema.NewStringLoader(document))
	if err != nil {
		return err
	}
	if result.Valid() {
		return nil
	}
	var descriptions []string
	for _, violation := range result.Errors() {
		descriptions = append(descriptions, violation.String())
	}
	return errors.New(strings.Join(descriptions, "; "))
}

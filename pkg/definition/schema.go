package definition

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "definition.schema.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

// Schema returns the JSON Schema that definition documents are validated against.
func Schema() []byte {
	return append([]byte(nil), schemaJSON...)
}

func loadSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("failed to add schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile(schemaURL)
	})
	return compiledSchema, schemaErr
}

// decode parses data keeping numbers as json.Number, which both the schema
// validator and the integer checks below understand.
func decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, derrors.NewError(derrors.CodeInvalidDefinition,
			fmt.Sprintf("document is not valid JSON: %v", err), derrors.ErrInvalidDefinition)
	}
	if dec.More() {
		return nil, derrors.NewError(derrors.CodeInvalidDefinition,
			"document has trailing data", derrors.ErrInvalidDefinition)
	}
	return doc, nil
}

// Validate checks data against the definition schema without compiling it.
func Validate(data []byte) error {
	doc, err := decode(data)
	if err != nil {
		return err
	}
	return validateDoc(doc)
}

func validateDoc(doc any) error {
	schema, err := loadSchema()
	if err != nil {
		return err
	}
	if err := schema.Validate(doc); err != nil {
		return derrors.NewError(derrors.CodeInvalidDefinition,
			strings.Join(validationMessages(err), "; "), derrors.ErrInvalidDefinition)
	}
	return nil
}

// validationMessages flattens a validation error into its leaf causes.
func validationMessages(err error) []string {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{err.Error()}
	}
	var out []string
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			out = append(out, fmt.Sprintf("at '%s': %s", loc, e.Message))
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(verr)
	return out
}

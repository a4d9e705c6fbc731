package engine

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/go-playground/validator/v10"
)

// ActionSchema declares the payload shape for one named action
// (work-item action, or a workflow/work-item initializer payload). The
// engine validates a work item's initialization payload against its
// task's ActionSchema before touching state. Results passed to
// CompleteWorkItem and the other work-item transitions are not
// validated.
type ActionSchema struct {
	Name        string
	ElementKind string // "task" | "workItem" | "workflow"
	PayloadType reflect.Type
}

// NewActionSchema builds an ActionSchema from a struct type, typically
// invoked as NewActionSchema("submitExpense", "workItem", ExpensePayload{}).
// Field validation rules are declared with `validate:"..."` struct tags,
// the same convention used throughout the retrieval pack (e.g.
// lookatitude-beluga-ai's config validator).
func NewActionSchema(name, elementKind string, sample any) ActionSchema {
	t := reflect.TypeOf(sample)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return ActionSchema{Name: name, ElementKind: elementKind, PayloadType: t}
}

// schemaValidator is a thin, mutex-free wrapper around validator.Validate
// (the library's own instance is safe for concurrent use once built).
type schemaValidator struct {
	v *validator.Validate
}

func newSchemaValidator() *schemaValidator {
	return &schemaValidator{v: validator.New(validator.WithRequiredStructEnabled())}
}

// Validate unmarshals payload into a fresh instance of schema's
// PayloadType and runs struct validation, returning a field-path ->
// message mapping on failure. A nil PayloadType means the action
// declares no payload shape and any payload is accepted.
func (sv *schemaValidator) Validate(schema ActionSchema, payload json.RawMessage) (any, error) {
	if schema.PayloadType == nil {
		return nil, nil
	}

	ptr := reflect.New(schema.PayloadType)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, ptr.Interface()); err != nil {
			return nil, &ValidationError{Fields: []FieldError{{Path: "$", Message: fmt.Sprintf("malformed payload: %v", err)}}}
		}
	}

	if err := sv.v.Struct(ptr.Interface()); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return nil, &ValidationError{Fields: []FieldError{{Path: "$", Message: err.Error()}}}
		}
		fields := make([]FieldError, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, FieldError{
				Path:    fe.Namespace(),
				Message: fmt.Sprintf("failed on the '%s' tag", fe.Tag()),
			})
		}
		return nil, &ValidationError{Fields: fields}
	}

	return ptr.Elem().Interface(), nil
}

package executor

import (
	"fmt"
)

// validateSchema runs a deliberately small subset of JSON Schema against
// data: type, required, enum, and recursive object/array properties,
// mirroring response_parser.py's _validate_schema/_check_type. It returns
// the list of violations rather than failing outright; the caller decides
// whether strict mode turns a non-empty list into an error.
func validateSchema(data any, schema map[string]any) []string {
	var errs []string

	schemaType, _ := schema["type"].(string)
	if schemaType != "" && !checkSchemaType(data, schemaType) {
		return []string{fmt.Sprintf("expected type %q, got %T", schemaType, data)}
	}

	if schemaType == "object" {
		if obj, ok := data.(map[string]any); ok {
			if required, ok := schema["required"].([]any); ok {
				for _, r := range required {
					field, _ := r.(string)
					if _, present := obj[field]; !present {
						errs = append(errs, fmt.Sprintf("missing required field: %q", field))
					}
				}
			}
			if props, ok := schema["properties"].(map[string]any); ok {
				for field, fieldSchemaAny := range props {
					fieldSchema, ok := fieldSchemaAny.(map[string]any)
					if !ok {
						continue
					}
					if v, present := obj[field]; present {
						for _, e := range validateSchema(v, fieldSchema) {
							errs = append(errs, field+"."+e)
						}
					}
				}
			}
		}
	}

	if schemaType == "array" {
		if items, ok := data.([]any); ok {
			if itemSchema, ok := schema["items"].(map[string]any); ok {
				for i, item := range items {
					for _, e := range validateSchema(item, itemSchema) {
						errs = append(errs, fmt.Sprintf("[%d].%s", i, e))
					}
				}
			}
		}
	}

	if enum, ok := schema["enum"].([]any); ok {
		if !containsValueLoose(enum, data) {
			errs = append(errs, fmt.Sprintf("value must be one of: %v", enum))
		}
	}

	return errs
}

func checkSchemaType(v any, expected string) bool {
	switch expected {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		switch v.(type) {
		case float64, float32, int, int64:
			return true
		}
		return false
	case "integer":
		switch n := v.(type) {
		case int, int64:
			return true
		case float64:
			return n == float64(int64(n))
		}
		return false
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "null":
		return v == nil
	default:
		return true
	}
}

func containsValueLoose(list []any, v any) bool {
	for _, item := range list {
		if fmt.Sprint(item) == fmt.Sprint(v) {
			return true
		}
	}
	return false
}

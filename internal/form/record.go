package form

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/pitabwire/masterdata/model"
)

// Field error codes.
const (
	CodeFieldRequired = "FIELD_REQUIRED"
	CodeFieldMin      = "FIELD_MIN"
	CodeFieldMax      = "FIELD_MAX"
)

// StripDisplayFields returns a copy of record without the server-computed
// *_display keys.
func StripDisplayFields(record model.Record) model.Record {
	out := make(model.Record, len(record))
	for k, v := range record {
		if strings.HasSuffix(k, model.DisplayFieldSuffix) {
			continue
		}
		out[k] = v
	}
	return out
}

// BuildPayload keeps the values of configured fields only, leaving out
// absent and empty-string values.
func BuildPayload(cfg map[string]model.FormFieldConfig, values map[string]any) map[string]any {
	payload := map[string]any{}
	for _, field := range cfg {
		if field.FieldName == "" {
			continue
		}
		v, ok := values[field.FieldName]
		if !ok {
			continue
		}
		if s, isString := v.(string); isString && s == "" {
			continue
		}
		payload[field.FieldName] = v
	}
	return payload
}

// Validate checks values against the rules of cfg. A required field fails
// on any falsy value, 0 and false included. Bounds are checked only for
// present values that read as numbers. Errors come back in label order.
func Validate(cfg map[string]model.FormFieldConfig, values map[string]any) []model.FieldError {
	var errs []model.FieldError
	for _, label := range slices.Sorted(maps.Keys(cfg)) {
		field := cfg[label]
		rules := field.Validation
		v := values[field.FieldName]

		if rules.Required && isFalsy(v) {
			errs = append(errs, model.FieldError{
				Field:   field.FieldName,
				Code:    CodeFieldRequired,
				Message: label + " is required",
			})
		}

		if rules.Min == nil && rules.Max == nil {
			continue
		}
		n, ok := asNumber(v)
		if !ok {
			continue
		}
		if rules.Min != nil && n < *rules.Min {
			errs = append(errs, model.FieldError{
				Field:   field.FieldName,
				Code:    CodeFieldMin,
				Message: fmt.Sprintf("%s must be at least %s", label, formatBound(*rules.Min)),
			})
		}
		if rules.Max != nil && n > *rules.Max {
			errs = append(errs, model.FieldError{
				Field:   field.FieldName,
				Code:    CodeFieldMax,
				Message: fmt.Sprintf("%s must be at most %s", label, formatBound(*rules.Max)),
			})
		}
	}
	return errs
}

func isFalsy(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case bool:
		return !x
	case json.Number:
		f, err := x.Float64()
		return err == nil && (f == 0 || math.IsNaN(f))
	}
	if n, ok := asNumber(v); ok {
		return n == 0 || math.IsNaN(n)
	}
	return false
}

// asNumber reads v as a float. Numeric strings count; empty strings and
// nil do not.
func asNumber(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	}
	return 0, false
}

func formatBound(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Package query turns list-view filter state into the parameter set sent to
// the records backend.
package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pitabwire/masterdata/model"
)

// Build returns the request parameters for one page of records. It never
// mutates its inputs; identical inputs always produce identical output.
func Build(
	params []model.ParameterSpec,
	values model.ParamValues,
	page, pageSize int,
	sort model.SortSpec,
) model.RequestParams {
	out := BuildExport(params, values, sort)
	out[model.ParamPage] = strconv.Itoa(page)
	out[model.ParamLimit] = strconv.Itoa(pageSize)
	return out
}

// BuildExport returns the filter, search and sort parameters without
// pagination, so an export covers the full filtered result set.
func BuildExport(
	params []model.ParameterSpec,
	values model.ParamValues,
	sort model.SortSpec,
) model.RequestParams {
	out := model.RequestParams{}

	var searchValues, searchFields []string
	for _, p := range params {
		if p.DataType == model.DataTypeDateRange {
			for _, suffix := range []string{model.DateRangeFromSuffix, model.DateRangeToSuffix} {
				key := p.Name + suffix
				if v, ok := values[key]; ok && isSet(v) {
					out[model.FilterKey(key)] = Stringify(v)
				}
			}
			continue
		}

		v, ok := values[p.Name]
		if !ok || isEmpty(v) {
			continue
		}
		if !p.Enumerated() {
			searchFields = append(searchFields, p.Name)
			searchValues = append(searchValues, strings.TrimSpace(Stringify(v)))
			continue
		}
		out[model.FilterKey(p.Name)] = Stringify(v)
	}

	if len(searchFields) > 0 {
		out[model.ParamSearch] = strings.Join(searchValues, ",")
		out[model.ParamSearchBy] = strings.Join(searchFields, ",")
	}

	if len(sort) > 0 {
		cols := make([]string, len(sort))
		dirs := make([]string, len(sort))
		for i, k := range sort {
			cols[i] = k.ColumnID
			dirs[i] = k.Direction.Code()
		}
		out[model.ParamSortBy] = strings.Join(cols, ",")
		out[model.ParamSortOrder] = strings.Join(dirs, ",")
	}
	return out
}

// SerializeSort renders a sort spec as a stable string for trigger
// comparison.
func SerializeSort(sort model.SortSpec) string {
	if len(sort) == 0 {
		return ""
	}
	parts := make([]string, len(sort))
	for i, k := range sort {
		parts[i] = k.ColumnID + ":" + k.Direction.Code()
	}
	return strings.Join(parts, ",")
}

// Stringify renders a filter value the way it appears on the wire. Whole
// numbers keep their integer form.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(x)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// isEmpty reports whether a scalar filter value counts as unset.
func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

// isSet reports whether a date range bound is present. Zero values of any
// kind count as absent.
func isSet(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return x != ""
	case bool:
		return x
	case float64:
		return x != 0
	case int:
		return x != 0
	}
	return true
}

package model

import (
	"net/url"
	"sort"
	"strings"
)

// Wire keys of a records query.
const (
	ParamPage      = "page"
	ParamLimit     = "limit"
	ParamSearch    = "search"
	ParamSearchBy  = "searchBy"
	ParamSortBy    = "sortBy"
	ParamSortOrder = "sortOrder"
)

// FilterKey returns the wire key for an exact-match filter on field.
func FilterKey(field string) string {
	return "filters[" + field + "]"
}

// SortDirection is the direction of a single sort key.
type SortDirection string

// Sort directions as reported by the grid.
const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// Code returns the uppercased wire code. Anything other than desc sorts
// ascending.
func (d SortDirection) Code() string {
	if strings.EqualFold(string(d), string(SortDesc)) {
		return "DESC"
	}
	return "ASC"
}

// SortKey is one column of a sort specification.
type SortKey struct {
	ColumnID  string        `json:"colId"`
	Direction SortDirection `json:"sort"`
}

// SortSpec is an ordered sort specification; the first key is primary.
type SortSpec []SortKey

// Clone returns an independent copy of the spec.
func (s SortSpec) Clone() SortSpec {
	if s == nil {
		return nil
	}
	out := make(SortSpec, len(s))
	copy(out, s)
	return out
}

// ParamValues maps parameter names (or <name>From / <name>To for date
// ranges) to the user's current filter input.
type ParamValues map[string]any

// Clone returns a shallow copy of the values.
func (v ParamValues) Clone() ParamValues {
	out := make(ParamValues, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// PageState is the pagination position of a list view.
type PageState struct {
	CurrentPage int `json:"currentPage"`
	PageSize    int `json:"pageSize"`
}

// TotalPages returns the number of pages for total records. Zero records
// still yield a single page.
func TotalPages(total, pageSize int) int {
	if pageSize <= 0 || total <= 0 {
		return 1
	}
	return (total + pageSize - 1) / pageSize
}

// RequestParams is the normalized parameter set sent to the records
// backend.
type RequestParams map[string]string

// Keys returns the parameter names in sorted order.
func (p RequestParams) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Values converts the params into url.Values.
func (p RequestParams) Values() url.Values {
	vals := make(url.Values, len(p))
	for k, v := range p {
		vals.Set(k, v)
	}
	return vals
}

// Encode returns the params as a deterministic query string.
func (p RequestParams) Encode() string {
	return p.Values().Encode()
}

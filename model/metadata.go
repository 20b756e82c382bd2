package model

import (
	"encoding/json"
	"fmt"
)

// DataType is the declared type of a filter parameter or form field.
type DataType string

// Supported data types.
const (
	DataTypeString    DataType = "string"
	DataTypeNumber    DataType = "number"
	DataTypeFloat     DataType = "float"
	DataTypeDate      DataType = "date"
	DataTypeDateRange DataType = "daterange"
	DataTypeBoolean   DataType = "boolean"
	DataTypeArray     DataType = "array"
	DataTypeObject    DataType = "object"
)

// Date range parameters are split into two values keyed by these suffixes.
const (
	DateRangeFromSuffix = "From"
	DateRangeToSuffix   = "To"
)

// DisplayFieldSuffix marks server-computed label fields that are never editable.
const DisplayFieldSuffix = "_display"

// Entity is a backend-defined data collection available for browsing.
type Entity struct {
	Name  string `json:"name"`
	Label string `json:"label"`
}

// UnmarshalJSON accepts both the {tableName, displayName} and {name, label}
// shapes returned by entity listings.
func (e *Entity) UnmarshalJSON(data []byte) error {
	var raw struct {
		TableName   string `json:"tableName"`
		Name        string `json:"name"`
		DisplayName string `json:"displayName"`
		Label       string `json:"label"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.Name = firstNonEmpty(raw.TableName, raw.Name)
	e.Label = firstNonEmpty(raw.DisplayName, raw.Label)
	return nil
}

// Option is a selectable value for dropdown filters and fields.
type Option struct {
	Value any    `json:"value"`
	Label string `json:"label"`
}

// ParameterSpec describes a filter parameter of an entity. A nil Options
// slice marks a free-text parameter; a non-nil slice (even empty) marks an
// enumerated one.
type ParameterSpec struct {
	Name     string   `json:"name"`
	Label    string   `json:"label"`
	DataType DataType `json:"dataType"`
	Options  []Option `json:"options"`
}

// Enumerated reports whether the parameter filters by exact match.
func (p ParameterSpec) Enumerated() bool {
	return p.Options != nil
}

// ResultColumn describes a column of the results grid.
type ResultColumn struct {
	Name     string   `json:"name"`
	Label    string   `json:"label"`
	DataType DataType `json:"dataType"`
}

// EntityMetadata is the server-supplied description of an entity.
// FormConfig is keyed by the field's display label.
type EntityMetadata struct {
	FormConfig    map[string]FormFieldConfig `json:"formConfig,omitempty"`
	ParameterList []ParameterSpec            `json:"parameterList,omitempty"`
	ResultsList   []ResultColumn             `json:"resultsList,omitempty"`
}

// FieldType is the input widget kind of a form field.
type FieldType string

// Supported field types.
const (
	FieldTypeText       FieldType = "text"
	FieldTypeDropdown   FieldType = "dropdown"
	FieldTypeDatepicker FieldType = "datepicker"
	FieldTypeNumber     FieldType = "number"
	FieldTypeTextarea   FieldType = "textarea"
	FieldTypeCheckbox   FieldType = "checkbox"
	FieldTypeRadio      FieldType = "radio"
)

// OptionType is the wire tag describing where a field's options come from.
type OptionType string

// Supported option types.
const (
	OptionTypeAPI    OptionType = "API"
	OptionTypeRaw    OptionType = "Raw"
	OptionTypeStatic OptionType = "Static"
)

// OptionSourceKind discriminates OptionSource variants.
type OptionSourceKind int

const (
	// OptionsNone means the field has no option list.
	OptionsNone OptionSourceKind = iota
	// OptionsInline carries the option list in the metadata itself.
	OptionsInline
	// OptionsRemote loads the option list from a URL.
	OptionsRemote
)

// OptionSource is the resolved, tagged form of the optionType/option pair.
type OptionSource struct {
	Kind  OptionSourceKind
	Type  OptionType
	Items []Option
	URL   string
}

// Validation holds the optional validation rules of a form field.
type Validation struct {
	Required bool     `json:"required,omitempty"`
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
}

// FormFieldConfig describes a single form field.
type FormFieldConfig struct {
	FieldName  string
	DataType   DataType
	FieldType  FieldType
	Options    OptionSource
	Validation Validation
}

type formFieldWire struct {
	FieldName  string          `json:"fieldName"`
	DataType   DataType        `json:"dataType"`
	FieldType  FieldType       `json:"fieldType"`
	OptionType *OptionType     `json:"optionType"`
	Option     json.RawMessage `json:"option"`
	Validation *Validation     `json:"validation"`
}

// UnmarshalJSON decodes the loosely-typed wire shape where option may be a
// URL string, an inline array, or null.
func (f *FormFieldConfig) UnmarshalJSON(data []byte) error {
	var w formFieldWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	f.FieldName = w.FieldName
	f.DataType = w.DataType
	f.FieldType = w.FieldType
	if w.Validation != nil {
		f.Validation = *w.Validation
	}

	src, err := decodeOptionSource(w.OptionType, w.Option)
	if err != nil {
		return fmt.Errorf("field %q: %w", w.FieldName, err)
	}
	f.Options = src
	return nil
}

// MarshalJSON encodes the field back into its wire shape.
func (f FormFieldConfig) MarshalJSON() ([]byte, error) {
	w := formFieldWire{
		FieldName:  f.FieldName,
		DataType:   f.DataType,
		FieldType:  f.FieldType,
		Validation: &f.Validation,
	}
	if f.Options.Type != "" {
		t := f.Options.Type
		w.OptionType = &t
	}
	var opt any
	switch f.Options.Kind {
	case OptionsInline:
		opt = f.Options.Items
	case OptionsRemote:
		opt = f.Options.URL
	}
	raw, err := json.Marshal(opt)
	if err != nil {
		return nil, err
	}
	w.Option = raw
	return json.Marshal(w)
}

func decodeOptionSource(optionType *OptionType, raw json.RawMessage) (OptionSource, error) {
	if optionType == nil {
		return OptionSource{Kind: OptionsNone}, nil
	}
	src := OptionSource{Kind: OptionsNone, Type: *optionType}
	if len(raw) == 0 || string(raw) == "null" {
		return src, nil
	}

	switch raw[0] {
	case '"':
		var url string
		if err := json.Unmarshal(raw, &url); err != nil {
			return src, fmt.Errorf("option url: %w", err)
		}
		if *optionType == OptionTypeAPI && url != "" {
			src.Kind = OptionsRemote
			src.URL = url
		}
	case '[':
		var items []Option
		if err := json.Unmarshal(raw, &items); err != nil {
			return src, fmt.Errorf("option list: %w", err)
		}
		if *optionType == OptionTypeRaw || *optionType == OptionTypeStatic {
			src.Kind = OptionsInline
			src.Items = items
		}
	}
	return src, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

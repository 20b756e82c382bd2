// Package form turns entity form metadata into renderable fields and turns
// user input back into record payloads.
package form

import (
	"cmp"
	"context"
	"maps"
	"slices"

	"go.uber.org/zap"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/pitabwire/masterdata/internal/observability"
	"github.com/pitabwire/masterdata/model"
)

// idField is the record key that is never rendered as an input.
const idField = "id"

// OptionsLoader loads the option list behind a remote option URL.
type OptionsLoader interface {
	GetDropdownOptions(ctx context.Context, url string) ([]model.Option, error)
}

// MaterializedForm is a form ready to render. Fields and ResolvedOptions
// are keyed differently: Fields by display label, ResolvedOptions and
// OptionErrors by field name.
type MaterializedForm struct {
	OrderedFields   []string                         `json:"orderedFields"`
	Fields          map[string]model.FormFieldConfig `json:"fields"`
	ResolvedOptions map[string][]model.Option        `json:"resolvedOptions"`
	OptionErrors    map[string]*model.ErrorEnvelope  `json:"optionErrors,omitempty"`
}

// Materializer orders form fields and resolves their option lists.
type Materializer struct {
	options OptionsLoader
	locale  string
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewMaterializer creates a Materializer. locale orders labels when the
// request carries none.
func NewMaterializer(options OptionsLoader, locale string, metrics *observability.Metrics, logger *zap.Logger) *Materializer {
	if locale == "" {
		locale = "en"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Materializer{options: options, locale: locale, metrics: metrics, logger: logger}
}

// Materialize orders the fields of cfg and resolves every option list.
// Remote lists load one at a time in field order; a failed load leaves an
// empty list and an entry in OptionErrors.
func (m *Materializer) Materialize(ctx context.Context, entity string, cfg map[string]model.FormFieldConfig) MaterializedForm {
	out := MaterializedForm{
		OrderedFields:   []string{},
		Fields:          maps.Clone(cfg),
		ResolvedOptions: map[string][]model.Option{},
	}
	if out.Fields == nil {
		out.Fields = map[string]model.FormFieldConfig{}
	}

	log := observability.RequestLogger(ctx, m.logger)
	for _, label := range OrderFields(cfg, model.LocaleFrom(ctx, m.locale)) {
		field := cfg[label]
		if field.FieldName == idField {
			continue
		}
		out.OrderedFields = append(out.OrderedFields, label)

		switch field.Options.Kind {
		case model.OptionsInline:
			out.ResolvedOptions[field.FieldName] = slices.Clone(field.Options.Items)
		case model.OptionsRemote:
			opts, err := m.loadRemote(ctx, entity, field.Options.URL)
			if err != nil {
				log.Warn("dropdown options failed to load",
					zap.String("entity", entity),
					zap.String("field", field.FieldName),
					zap.String("url", field.Options.URL),
					zap.Error(err))
				m.metrics.RecordDropdownFailure(entity)
				if out.OptionErrors == nil {
					out.OptionErrors = map[string]*model.ErrorEnvelope{}
				}
				out.OptionErrors[field.FieldName] = model.NewDropdownOptionsError(label, err)
				opts = []model.Option{}
			}
			out.ResolvedOptions[field.FieldName] = opts
		}
	}
	return out
}

func (m *Materializer) loadRemote(ctx context.Context, entity, url string) ([]model.Option, error) {
	ctx, span := observability.StartSpan(ctx, "form.options", observability.AttrEntity.String(entity))
	opts, err := m.options.GetDropdownOptions(ctx, url)
	observability.EndSpanWithError(span, err)
	if err != nil {
		return nil, err
	}
	if opts == nil {
		opts = []model.Option{}
	}
	return opts, nil
}

// OrderFields returns the labels of cfg with required fields first, each
// group ordered by the collation rules of locale.
func OrderFields(cfg map[string]model.FormFieldConfig, locale string) []string {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.Und
	}
	col := collate.New(tag)

	labels := slices.Collect(maps.Keys(cfg))
	slices.SortFunc(labels, func(a, b string) int {
		ra, rb := cfg[a].Validation.Required, cfg[b].Validation.Required
		switch {
		case ra && !rb:
			return -1
		case !ra && rb:
			return 1
		}
		if c := col.CompareString(a, b); c != 0 {
			return c
		}
		// Labels equal under collation still need a stable order.
		return cmp.Compare(a, b)
	})
	return labels
}

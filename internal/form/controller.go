package form

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pitabwire/masterdata/internal/observability"
	"github.com/pitabwire/masterdata/model"
)

// Mode is the purpose a form is opened for.
type Mode string

// Form modes.
const (
	ModeCreate Mode = "create"
	ModeEdit   Mode = "edit"
	ModeView   Mode = "view"
)

// ParseMode validates a mode string. An empty string means create.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeCreate:
		return ModeCreate, nil
	case ModeEdit, ModeView:
		return Mode(s), nil
	}
	return "", model.NewBadRequestError(fmt.Sprintf("unknown form mode %q", s))
}

// LoadedForm is a materialized form plus the values it opens with.
type LoadedForm struct {
	Entity string           `json:"entity"`
	ID     string           `json:"id,omitempty"`
	Mode   Mode             `json:"mode"`
	Form   MaterializedForm `json:"form"`
	Values model.Record     `json:"values"`
}

// Controller loads forms for display and saves their submissions.
type Controller struct {
	provider     model.RecordsProvider
	materializer *Materializer
	metrics      *observability.Metrics
	logger       *zap.Logger
}

// NewController creates a Controller.
func NewController(provider model.RecordsProvider, materializer *Materializer,
	metrics *observability.Metrics, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{provider: provider, materializer: materializer, metrics: metrics, logger: logger}
}

// Load materializes the form of entity and, for edit and view, loads the
// record id with its display fields stripped.
func (c *Controller) Load(ctx context.Context, entity, id string, mode Mode) (LoadedForm, error) {
	if err := checkTarget(entity, id, mode); err != nil {
		return LoadedForm{}, err
	}
	ctx, span := observability.StartSpan(ctx, "form.load",
		observability.AttrEntity.String(entity),
		observability.AttrFormMode.String(string(mode)),
	)
	var err error
	defer func() { observability.EndSpanWithError(span, err) }()

	log := observability.RequestLogger(ctx, c.logger).With(zap.String("entity", entity))

	md, mdErr := c.provider.GetMetadata(ctx, entity)
	if mdErr != nil {
		log.Error(model.MsgFailedLoadMetadata, zap.Error(mdErr))
		err = model.NewMetadataLoadError(model.MsgFailedLoadFormConfig, mdErr)
		return LoadedForm{}, err
	}

	out := LoadedForm{
		Entity: entity,
		ID:     id,
		Mode:   mode,
		Form:   c.materializer.Materialize(ctx, entity, md.FormConfig),
		Values: model.Record{},
	}
	if mode == ModeCreate {
		return out, nil
	}

	rec, recErr := c.provider.GetRecord(ctx, entity, id)
	if recErr != nil {
		log.Error(model.MsgFailedLoadRecord, zap.String("id", id), zap.Error(recErr))
		err = model.NewRecordLoadError(recErr)
		return LoadedForm{}, err
	}
	out.Values = StripDisplayFields(rec)
	return out, nil
}

// Submit validates values, keeps the configured fields and creates or
// updates the record. The payload is sent wrapped as {"data": payload}.
func (c *Controller) Submit(ctx context.Context, entity, id string, mode Mode, values map[string]any) (model.Record, error) {
	if mode == ModeView {
		return nil, model.NewBadRequestError("a form opened for viewing cannot be submitted")
	}
	if err := checkTarget(entity, id, mode); err != nil {
		return nil, err
	}
	ctx, span := observability.StartSpan(ctx, "form.submit",
		observability.AttrEntity.String(entity),
		observability.AttrFormMode.String(string(mode)),
	)
	var err error
	defer func() { observability.EndSpanWithError(span, err) }()

	log := observability.RequestLogger(ctx, c.logger).With(zap.String("entity", entity))

	md, mdErr := c.provider.GetMetadata(ctx, entity)
	if mdErr != nil {
		log.Error(model.MsgFailedLoadMetadata, zap.Error(mdErr))
		err = model.NewMetadataLoadError(model.MsgFailedLoadFormConfig, mdErr)
		return nil, err
	}

	if fieldErrs := Validate(md.FormConfig, values); len(fieldErrs) > 0 {
		c.metrics.RecordValidationFailure(entity)
		err = model.NewValidationError(fieldErrs)
		return nil, err
	}

	body := map[string]any{"data": BuildPayload(md.FormConfig, values)}
	log.Debug("saving record", zap.String("mode", string(mode)), zap.String("id", id),
		zap.Any("payload", observability.RedactBody(body, nil)))
	var rec model.Record
	var saveErr error
	if mode == ModeCreate {
		rec, saveErr = c.provider.CreateRecord(ctx, entity, body)
	} else {
		rec, saveErr = c.provider.UpdateRecord(ctx, entity, id, body)
	}
	if saveErr != nil {
		log.Error("failed to save record", zap.String("id", id), zap.Error(saveErr))
		c.metrics.RecordFormSave(entity, string(mode), "error")
		err = model.NewSaveError(saveErr)
		return nil, err
	}
	c.metrics.RecordFormSave(entity, string(mode), "ok")
	return rec, nil
}

// Delete removes the record id of entity.
func (c *Controller) Delete(ctx context.Context, entity, id string) error {
	if entity == "" || id == "" {
		return model.NewBadRequestError("entity and record id are required")
	}
	ctx, span := observability.StartSpan(ctx, "form.delete",
		observability.AttrEntity.String(entity),
	)
	_, err := c.provider.DeleteRecord(ctx, entity, id)
	if err != nil {
		observability.RequestLogger(ctx, c.logger).Error("failed to delete record",
			zap.String("entity", entity), zap.String("id", id), zap.Error(err))
		c.metrics.RecordFormSave(entity, "delete", "error")
		derr := model.NewDeleteError(err)
		observability.EndSpanWithError(span, derr)
		return derr
	}
	observability.EndSpanWithError(span, nil)
	c.metrics.RecordFormSave(entity, "delete", "ok")
	return nil
}

func checkTarget(entity, id string, mode Mode) error {
	if entity == "" {
		return model.NewBadRequestError("entity is required")
	}
	switch mode {
	case ModeCreate:
	case ModeEdit, ModeView:
		if id == "" {
			return model.NewBadRequestError(fmt.Sprintf("a record id is required in %s mode", mode))
		}
	default:
		return model.NewBadRequestError(fmt.Sprintf("unknown form mode %q", mode))
	}
	return nil
}

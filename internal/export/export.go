// Package export downloads the full filtered result set of a list view.
package export

import (
	"context"
	"fmt"
	"mime"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/masterdata/internal/observability"
	"github.com/pitabwire/masterdata/model"
)

// Source supplies the entity and the unpaginated query of a view.
type Source interface {
	ExportRequest() (string, model.RequestParams, error)
}

// ParseFormat validates a format name.
func ParseFormat(s string) (model.ExportFormat, error) {
	switch f := model.ExportFormat(strings.ToLower(s)); f {
	case model.ExportCSV, model.ExportExcel:
		return f, nil
	}
	return "", model.NewBadRequestError(fmt.Sprintf("unknown export format %q", s))
}

// Runner performs exports against the records provider.
type Runner struct {
	provider model.RecordsProvider
	metrics  *observability.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewRunner creates a Runner.
func NewRunner(provider model.RecordsProvider, metrics *observability.Metrics, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{provider: provider, metrics: metrics, logger: logger, now: time.Now}
}

// Run exports the current view of src. The returned file always carries a
// content type and a filename.
func (r *Runner) Run(ctx context.Context, src Source, format model.ExportFormat) (model.ExportFile, error) {
	entity, params, err := src.ExportRequest()
	if err != nil {
		return model.ExportFile{}, err
	}

	ctx, span := observability.StartSpan(ctx, "export.run",
		observability.AttrEntity.String(entity),
		observability.AttrFormat.String(string(format)),
	)
	var file model.ExportFile
	switch format {
	case model.ExportCSV:
		file, err = r.provider.ExportCSV(ctx, entity, params)
	case model.ExportExcel:
		file, err = r.provider.ExportExcel(ctx, entity, params)
	default:
		err = model.NewBadRequestError(fmt.Sprintf("unknown export format %q", format))
		observability.EndSpanWithError(span, err)
		return model.ExportFile{}, err
	}
	observability.EndSpanWithError(span, err)

	if err != nil {
		observability.RequestLogger(ctx, r.logger).Error("export failed",
			zap.String("entity", entity), zap.String("format", string(format)), zap.Error(err))
		r.metrics.RecordExport(entity, string(format), "error", 0)
		return model.ExportFile{}, model.NewExportError(format.Label(), err)
	}

	if file.ContentType == "" {
		file.ContentType = format.DefaultContentType()
	}
	file.Filename = Filename(file.ContentDisposition, entity, format, r.now())
	r.metrics.RecordExport(entity, string(format), "ok", len(file.Data))
	return file, nil
}

var filenamePattern = regexp.MustCompile(`(?i)filename="?(.+)"?`)

// Filename picks the download name: the Content-Disposition filename with
// quotes removed, else <entity>_<YYYY-MM-DD>.<ext> for the UTC date of now.
func Filename(contentDisposition, entity string, format model.ExportFormat, now time.Time) string {
	if contentDisposition != "" {
		if _, params, err := mime.ParseMediaType(contentDisposition); err == nil && params["filename"] != "" {
			return params["filename"]
		}
		if m := filenamePattern.FindStringSubmatch(contentDisposition); m != nil {
			if name := strings.ReplaceAll(m[1], `"`, ""); name != "" {
				return name
			}
		}
	}
	return fmt.Sprintf("%s_%s.%s", entity, now.UTC().Format(time.DateOnly), format.Extension())
}

package model

import "context"

// Record is a single entity record as returned by the backend.
type Record = map[string]any

// ListResult is one page of records plus the total matching count.
type ListResult struct {
	Rows  []Record `json:"rows"`
	Total int      `json:"total"`
}

// ExportFormat selects the bulk export encoding.
type ExportFormat string

// Supported export formats.
const (
	ExportCSV   ExportFormat = "csv"
	ExportExcel ExportFormat = "excel"
)

// Extension returns the file extension of the format.
func (f ExportFormat) Extension() string {
	if f == ExportExcel {
		return "xlsx"
	}
	return "csv"
}

// DefaultContentType returns the MIME type used when the backend does not
// send one.
func (f ExportFormat) DefaultContentType() string {
	if f == ExportExcel {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv;charset=utf-8;"
}

// Label returns the user-facing name of the format.
func (f ExportFormat) Label() string {
	if f == ExportExcel {
		return "Excel"
	}
	return "CSV"
}

// ExportFile is a downloaded export blob with its content headers.
type ExportFile struct {
	Data               []byte
	ContentType        string
	ContentDisposition string
	Filename           string
}

// RecordsProvider is the backend capability surface consumed by the list
// view and form components.
type RecordsProvider interface {
	ListEntities(ctx context.Context) ([]Entity, error)
	GetMetadata(ctx context.Context, entity string) (EntityMetadata, error)
	ListRecords(ctx context.Context, entity string, params RequestParams) (ListResult, error)
	GetRecord(ctx context.Context, entity, id string) (Record, error)
	CreateRecord(ctx context.Context, entity string, payload map[string]any) (Record, error)
	UpdateRecord(ctx context.Context, entity, id string, payload map[string]any) (Record, error)
	DeleteRecord(ctx context.Context, entity, id string) (Record, error)
	ExportCSV(ctx context.Context, entity string, params RequestParams) (ExportFile, error)
	ExportExcel(ctx context.Context, entity string, params RequestParams) (ExportFile, error)
	GetDropdownOptions(ctx context.Context, url string) ([]Option, error)
}

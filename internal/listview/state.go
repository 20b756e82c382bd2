// Package listview synchronizes a list view's filters, pagination and
// sorting with fetches against the records provider.
//
// A view starts Hidden. Filter edits never fetch. Reveal commits the filter
// set and fetches page 1. While Revealed, every change of page, page size or
// sort that alters the trigger tuple issues exactly one fetch. At most one
// fetch is in flight per view; transitions arriving meanwhile are settled by
// a single follow-up fetch once it completes. Responses that outlive their
// entity are discarded.
package listview

import (
	"fmt"

	"github.com/pitabwire/masterdata/internal/query"
	"github.com/pitabwire/masterdata/model"
)

// Phase is the visibility state of a list view's results.
type Phase string

const (
	// PhaseHidden shows no results; page and sort changes do not fetch.
	PhaseHidden Phase = "hidden"
	// PhaseRevealed shows results; page, size and sort changes fetch.
	PhaseRevealed Phase = "revealed"
)

// Trigger is the tuple that decides whether a fetch is warranted. Page 0
// is the sentinel for "nothing issued yet" and never equals a real trigger.
type Trigger struct {
	Page     int    `json:"page"`
	PageSize int    `json:"pageSize"`
	Sort     string `json:"sort"`
}

// IsSentinel reports whether t is the initial trigger.
func (t Trigger) IsSentinel() bool {
	return t.Page == 0
}

func newTrigger(page model.PageState, sort model.SortSpec) Trigger {
	return Trigger{Page: page.CurrentPage, PageSize: page.PageSize, Sort: query.SerializeSort(sort)}
}

// state is everything a view owns. It is only touched with the
// coordinator's mutex held.
type state struct {
	phase    Phase
	entities []model.Entity

	entity        string
	parameters    []model.ParameterSpec
	columns       []model.ResultColumn
	filterOptions map[string][]model.Option
	values        model.ParamValues

	page model.PageState
	sort model.SortSpec

	rows    []model.Record
	total   int
	loading bool
	fetched bool
	lastErr *model.ErrorEnvelope

	inFlight    bool
	lastTrigger Trigger
	generation  uint64

	// Transitions that arrived while a fetch was in flight. The fetch
	// settles them with one follow-up when it completes.
	pendingReveal  bool
	pendingTrigger bool
}

// resetForEntity returns the view to Hidden for a newly selected entity.
func (s *state) resetForEntity(entity string, pageSize int) {
	s.generation++
	s.phase = PhaseHidden
	s.entity = entity
	s.parameters = nil
	s.columns = nil
	s.filterOptions = map[string][]model.Option{}
	s.values = model.ParamValues{}
	s.page = model.PageState{CurrentPage: 1, PageSize: pageSize}
	s.sort = nil
	s.rows = []model.Record{}
	s.total = 0
	s.loading = false
	s.fetched = false
	s.lastErr = nil
	s.inFlight = false
	s.lastTrigger = Trigger{}
	s.pendingReveal = false
	s.pendingTrigger = false
}

// applyMetadata installs the filter and column metadata of the entity.
// Every parameter starts with a null value; enumerated parameters expose
// their options for the filter dropdowns.
func (s *state) applyMetadata(md model.EntityMetadata) {
	s.parameters = md.ParameterList
	s.columns = md.ResultsList
	for _, p := range md.ParameterList {
		s.values[p.Name] = nil
		if p.Enumerated() {
			s.filterOptions[p.Name] = p.Options
		}
	}
}

func (s *state) totalPages() int {
	return model.TotalPages(s.total, s.page.PageSize)
}

// valueKeys returns the value keys a parameter accepts.
func valueKeys(p model.ParameterSpec) []string {
	if p.DataType == model.DataTypeDateRange {
		return []string{p.Name + model.DateRangeFromSuffix, p.Name + model.DateRangeToSuffix}
	}
	return []string{p.Name}
}

func (s *state) acceptsValue(key string) bool {
	for _, p := range s.parameters {
		for _, k := range valueKeys(p) {
			if k == key {
				return true
			}
		}
	}
	return false
}

// Snapshot is a read-only copy of a view's state.
type Snapshot struct {
	Phase         Phase                     `json:"phase"`
	Entities      []model.Entity            `json:"entities,omitempty"`
	Entity        string                    `json:"entity"`
	Parameters    []model.ParameterSpec     `json:"parameters"`
	FilterOptions map[string][]model.Option `json:"filterOptions"`
	Values        model.ParamValues         `json:"values"`
	Columns       []model.ResultColumn      `json:"columns"`
	Page          int                       `json:"page"`
	PageSize      int                       `json:"pageSize"`
	PageSizes     []int                     `json:"pageSizes"`
	TotalPages    int                       `json:"totalPages"`
	PageWindow    []int                     `json:"pageWindow"`
	Sort          model.SortSpec            `json:"sort"`
	Rows          []model.Record            `json:"rows"`
	Total         int                       `json:"total"`
	Loading       bool                      `json:"loading"`
	Fetched       bool                      `json:"fetched"`
	LastError     *model.ErrorEnvelope      `json:"lastError,omitempty"`
}

// Saved is the persistable part of a view, enough to rebuild it after a
// restart or on another replica.
type Saved struct {
	Entity   string            `json:"entity"`
	Values   model.ParamValues `json:"values,omitempty"`
	Page     int               `json:"page"`
	PageSize int               `json:"pageSize"`
	Sort     model.SortSpec    `json:"sort,omitempty"`
	Revealed bool              `json:"revealed"`
}

// PageWindow returns up to size consecutive page numbers around current,
// shifted left when current is near the last page.
func PageWindow(current, totalPages, size int) []int {
	if size <= 0 {
		size = 5
	}
	if totalPages < 1 {
		totalPages = 1
	}
	start := max(1, current-size/2)
	end := min(totalPages, start+size-1)
	if end-start < size-1 {
		start = max(1, end-size+1)
	}
	pages := make([]int, 0, end-start+1)
	for p := start; p <= end; p++ {
		pages = append(pages, p)
	}
	return pages
}

func validateSort(sort model.SortSpec) error {
	for i, k := range sort {
		if k.ColumnID == "" {
			return model.NewBadRequestError(fmt.Sprintf("sort key %d has no column", i))
		}
		if k.Direction != model.SortAsc && k.Direction != model.SortDesc {
			return model.NewBadRequestError(fmt.Sprintf("sort key %q has invalid direction %q", k.ColumnID, k.Direction))
		}
	}
	return nil
}

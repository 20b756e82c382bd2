package listview

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/masterdata/internal/config"
	"github.com/pitabwire/masterdata/internal/observability"
	"github.com/pitabwire/masterdata/internal/query"
	"github.com/pitabwire/masterdata/model"
)

// Coordinator owns the state of one list view and decides when to fetch.
// Transitions are serialized; the provider is called without the lock held,
// so reads and other transitions proceed while a fetch is in flight.
type Coordinator struct {
	provider   model.RecordsProvider
	pageSizes  []int
	windowSize int
	metrics    *observability.Metrics
	logger     *zap.Logger

	mu sync.Mutex
	st state
}

// NewCoordinator creates a Hidden view with no entity selected.
func NewCoordinator(provider model.RecordsProvider, cfg config.ListConfig,
	metrics *observability.Metrics, logger *zap.Logger) *Coordinator {
	pageSizes := slices.Clone(cfg.PageSizes)
	if len(pageSizes) == 0 {
		pageSizes = []int{10, 20, 50, 100}
	}
	defaultSize := cfg.DefaultPageSize
	if !slices.Contains(pageSizes, defaultSize) {
		defaultSize = pageSizes[0]
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		provider:   provider,
		pageSizes:  pageSizes,
		windowSize: cfg.PageWindow,
		metrics:    metrics,
		logger:     logger,
	}
	c.st.resetForEntity("", defaultSize)
	return c
}

// fetchJob is a fetch decided under the lock and executed outside it.
type fetchJob struct {
	generation uint64
	entity     string
	trigger    Trigger
	params     model.RequestParams
}

// LoadEntities lists the available entities and selects the first one when
// nothing is selected yet.
func (c *Coordinator) LoadEntities(ctx context.Context) error {
	entities, err := c.provider.ListEntities(ctx)

	c.mu.Lock()
	if err != nil {
		c.st.lastErr = model.NewEntitiesLoadError(err)
		c.mu.Unlock()
		observability.RequestLogger(ctx, c.logger).Error(model.MsgFailedLoadEntities, zap.Error(err))
		return nil
	}
	c.st.entities = entities
	autoSelect := c.st.entity == "" && len(entities) > 0
	c.mu.Unlock()

	if autoSelect {
		return c.SelectEntity(ctx, entities[0].Name)
	}
	return nil
}

// SelectEntity switches the view to entity, returning it to Hidden with
// fresh null filter values. Any fetch still in flight for the previous
// entity is orphaned and its response discarded.
func (c *Coordinator) SelectEntity(ctx context.Context, entity string) error {
	if entity == "" {
		return model.NewBadRequestError("entity is required")
	}

	c.mu.Lock()
	c.st.resetForEntity(entity, c.st.page.PageSize)
	gen := c.st.generation
	c.mu.Unlock()

	md, err := c.provider.GetMetadata(ctx, entity)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.st.generation {
		c.metrics.RecordStaleResponse(entity)
		return nil
	}
	if err != nil {
		c.st.lastErr = model.NewMetadataLoadError(model.MsgFailedLoadMetadata, err)
		observability.RequestLogger(ctx, c.logger).Error(model.MsgFailedLoadMetadata,
			zap.String("entity", entity), zap.Error(err))
		return nil
	}
	c.st.applyMetadata(md)
	return nil
}

// SetParamValue changes a single filter value. It never fetches.
func (c *Coordinator) SetParamValue(name string, value any) error {
	return c.SetParamValues(model.ParamValues{name: value})
}

// SetParamValues changes several filter values at once. Unknown keys reject
// the whole update. It never fetches.
func (c *Coordinator) SetParamValues(values model.ParamValues) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range slices.Sorted(maps.Keys(values)) {
		if !c.st.acceptsValue(key) {
			return model.NewBadRequestError(fmt.Sprintf("unknown filter parameter %q", key))
		}
	}
	for k, v := range values {
		c.st.values[k] = v
	}
	return nil
}

// Reveal commits the current filters and fetches page 1. It bypasses the
// change check. While another fetch is in flight the reveal is deferred and
// the running fetch issues it when it completes.
func (c *Coordinator) Reveal(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.st.entity == "" {
		c.mu.Unlock()
		return false, model.NewBadRequestError("no entity selected")
	}
	c.st.phase = PhaseRevealed
	c.st.page.CurrentPage = 1
	c.metrics.RecordReveal(c.st.entity)

	if c.st.inFlight {
		c.st.pendingReveal = true
		c.metrics.RecordTriggerDeferred(c.st.entity)
		c.mu.Unlock()
		return true, nil
	}
	c.st.lastTrigger = newTrigger(c.st.page, c.st.sort)
	job := c.beginFetchLocked()
	c.mu.Unlock()

	return c.run(ctx, job), nil
}

// OnPageChanged moves to page. Once results are known the page is clamped
// to the last page.
func (c *Coordinator) OnPageChanged(ctx context.Context, page int) (bool, error) {
	if page < 1 {
		return false, model.NewBadRequestError(fmt.Sprintf("page must be at least 1, got %d", page))
	}

	c.mu.Lock()
	if c.st.fetched {
		page = min(page, c.st.totalPages())
	}
	c.st.page.CurrentPage = page
	job, deferred := c.triggerLocked()
	c.mu.Unlock()

	return c.run(ctx, job) || deferred, nil
}

// OnPageSizeChanged switches the page size and returns to page 1.
func (c *Coordinator) OnPageSizeChanged(ctx context.Context, size int) (bool, error) {
	if !slices.Contains(c.pageSizes, size) {
		return false, model.NewBadRequestError(fmt.Sprintf("page size %d is not one of %v", size, c.pageSizes))
	}

	c.mu.Lock()
	c.st.page = model.PageState{CurrentPage: 1, PageSize: size}
	job, deferred := c.triggerLocked()
	c.mu.Unlock()

	return c.run(ctx, job) || deferred, nil
}

// OnSortChanged replaces the sort specification wholesale.
func (c *Coordinator) OnSortChanged(ctx context.Context, sort model.SortSpec) (bool, error) {
	if err := validateSort(sort); err != nil {
		return false, err
	}

	c.mu.Lock()
	c.st.sort = sort.Clone()
	job, deferred := c.triggerLocked()
	c.mu.Unlock()

	return c.run(ctx, job) || deferred, nil
}

// Restore rebuilds a saved view: it selects the entity, reapplies filters,
// page size and sort, and when the view was revealed fetches the saved page.
func (c *Coordinator) Restore(ctx context.Context, saved Saved) error {
	if err := c.SelectEntity(ctx, saved.Entity); err != nil {
		return err
	}

	c.mu.Lock()
	for k, v := range saved.Values {
		if c.st.acceptsValue(k) {
			c.st.values[k] = v
		}
	}
	if slices.Contains(c.pageSizes, saved.PageSize) {
		c.st.page.PageSize = saved.PageSize
	}
	if saved.Page > 1 {
		c.st.page.CurrentPage = saved.Page
	}
	if validateSort(saved.Sort) == nil {
		c.st.sort = saved.Sort.Clone()
	}
	var job *fetchJob
	if saved.Revealed && c.st.lastErr == nil {
		c.st.phase = PhaseRevealed
		c.st.lastTrigger = newTrigger(c.st.page, c.st.sort)
		job = c.beginFetchLocked()
	}
	c.mu.Unlock()

	c.run(ctx, job)
	return nil
}

// ExportRequest returns the entity and the filter and sort parameters of
// the current view, without pagination.
func (c *Coordinator) ExportRequest() (string, model.RequestParams, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st.entity == "" {
		return "", nil, model.NewBadRequestError("no entity selected")
	}
	return c.st.entity, query.BuildExport(c.st.parameters, c.st.values, c.st.sort), nil
}

// Snapshot returns a copy of the current state.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.st.totalPages()
	return Snapshot{
		Phase:         c.st.phase,
		Entities:      slices.Clone(c.st.entities),
		Entity:        c.st.entity,
		Parameters:    slices.Clone(c.st.parameters),
		FilterOptions: maps.Clone(c.st.filterOptions),
		Values:        c.st.values.Clone(),
		Columns:       slices.Clone(c.st.columns),
		Page:          c.st.page.CurrentPage,
		PageSize:      c.st.page.PageSize,
		PageSizes:     slices.Clone(c.pageSizes),
		TotalPages:    total,
		PageWindow:    PageWindow(c.st.page.CurrentPage, total, c.windowSize),
		Sort:          c.st.sort.Clone(),
		Rows:          slices.Clone(c.st.rows),
		Total:         c.st.total,
		Loading:       c.st.loading,
		Fetched:       c.st.fetched,
		LastError:     c.st.lastErr,
	}
}

// Saved returns the persistable part of the view.
func (c *Coordinator) Saved() Saved {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Saved{
		Entity:   c.st.entity,
		Values:   c.st.values.Clone(),
		Page:     c.st.page.CurrentPage,
		PageSize: c.st.page.PageSize,
		Sort:     c.st.sort.Clone(),
		Revealed: c.st.phase == PhaseRevealed,
	}
}

// Trigger returns the last issued trigger.
func (c *Coordinator) Trigger() Trigger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.lastTrigger
}

// triggerLocked issues a fetch when the view is revealed and the trigger
// tuple changed since the last issued fetch. A change arriving while a fetch
// is in flight is deferred: the last trigger is left alone and the running
// fetch compares against it when it completes.
func (c *Coordinator) triggerLocked() (job *fetchJob, deferred bool) {
	if c.st.phase != PhaseRevealed {
		return nil, false
	}
	next := newTrigger(c.st.page, c.st.sort)
	if c.st.lastTrigger.IsSentinel() || next == c.st.lastTrigger {
		return nil, false
	}
	if c.st.inFlight {
		c.st.pendingTrigger = true
		c.metrics.RecordTriggerDeferred(c.st.entity)
		return nil, true
	}
	c.st.lastTrigger = next
	return c.beginFetchLocked(), false
}

func (c *Coordinator) beginFetchLocked() *fetchJob {
	c.st.inFlight = true
	c.st.loading = true
	return &fetchJob{
		generation: c.st.generation,
		entity:     c.st.entity,
		trigger:    c.st.lastTrigger,
		params: query.Build(c.st.parameters, c.st.values,
			c.st.page.CurrentPage, c.st.page.PageSize, c.st.sort),
	}
}

// run executes job, if any, followed by the fetches owed to transitions
// deferred while it was in flight. It reports whether a fetch was issued.
func (c *Coordinator) run(ctx context.Context, job *fetchJob) bool {
	if job == nil {
		return false
	}
	for job != nil {
		job = c.fetch(ctx, job)
	}
	return true
}

// fetch executes job and applies its result. It returns the follow-up job,
// if any.
func (c *Coordinator) fetch(ctx context.Context, job *fetchJob) *fetchJob {
	ctx, span := observability.StartSpan(ctx, "listview.fetch",
		observability.AttrEntity.String(job.entity),
		observability.AttrPage.Int(job.trigger.Page),
		observability.AttrPageSize.Int(job.trigger.PageSize),
	)
	start := time.Now()
	res, err := c.provider.ListRecords(ctx, job.entity, job.params)
	observability.EndSpanWithError(span, err)

	status := "ok"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordListFetch(job.entity, status, time.Since(start))

	c.mu.Lock()
	defer c.mu.Unlock()

	if job.generation != c.st.generation {
		c.metrics.RecordStaleResponse(job.entity)
		return nil
	}
	c.st.inFlight = false
	c.st.loading = false
	c.st.fetched = true

	if err != nil {
		c.st.rows = []model.Record{}
		c.st.total = 0
		c.st.lastErr = model.NewFetchListError(err)
		observability.RequestLogger(ctx, c.logger).Error(model.MsgFailedFetchList,
			zap.String("entity", job.entity), zap.Error(err))
	} else {
		c.st.rows = res.Rows
		if c.st.rows == nil {
			c.st.rows = []model.Record{}
		}
		c.st.total = res.Total
		c.st.lastErr = nil
	}

	// Keep the displayed page inside the known range. The last trigger keeps
	// the page that was requested, so navigating to the clamped page fetches.
	if tp := c.st.totalPages(); c.st.page.CurrentPage > tp {
		c.st.page.CurrentPage = tp
	}
	return c.followUpLocked(job)
}

// followUpLocked settles transitions deferred while done was in flight. A
// deferred reveal always fetches; deferred page, size or sort changes fetch
// only when the view no longer matches what done requested.
func (c *Coordinator) followUpLocked(done *fetchJob) *fetchJob {
	reveal, changed := c.st.pendingReveal, c.st.pendingTrigger
	c.st.pendingReveal, c.st.pendingTrigger = false, false
	if !reveal && !changed {
		return nil
	}
	next := newTrigger(c.st.page, c.st.sort)
	if !reveal && next == done.trigger {
		return nil
	}
	c.st.lastTrigger = next
	return c.beginFetchLocked()
}

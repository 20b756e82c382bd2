package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/masterdata/internal/config"
	"github.com/pitabwire/masterdata/internal/listview"
	"github.com/pitabwire/masterdata/internal/observability"
	"github.com/pitabwire/masterdata/model"
)

// Session is a live list view owned by one tenant.
type Session struct {
	ID        string
	TenantID  string
	SubjectID string
	View      *listview.Coordinator

	lastUsed atomic.Int64 // unix nanoseconds
}

func (s *Session) touch(now time.Time) {
	s.lastUsed.Store(now.UnixNano())
}

// LastUsed returns when the session was last looked up.
func (s *Session) LastUsed() time.Time {
	return time.Unix(0, s.lastUsed.Load())
}

// Manager creates, finds and expires view sessions. Live sessions are
// kept in memory; their view state is written to the Store after every
// change so another replica can rebuild them.
type Manager struct {
	provider model.RecordsProvider
	listCfg  config.ListConfig
	cfg      config.SessionsConfig
	store    Store
	metrics  *observability.Metrics
	logger   *zap.Logger
	now      func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a Manager. A nil store keeps sessions in memory only.
func NewManager(provider model.RecordsProvider, listCfg config.ListConfig, cfg config.SessionsConfig,
	store Store, metrics *observability.Metrics, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		provider: provider,
		listCfg:  listCfg,
		cfg:      cfg,
		store:    store,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Create starts a new session. With an empty entity the entity list is
// loaded and the first entity selected.
func (m *Manager) Create(ctx context.Context, entity string) (*Session, error) {
	tenantID, subjectID := identity(ctx)
	view := listview.NewCoordinator(m.provider, m.listCfg, m.metrics, m.logger)

	var err error
	if entity == "" {
		err = view.LoadEntities(ctx)
	} else {
		err = view.SelectEntity(ctx, entity)
	}
	if err != nil {
		return nil, err
	}

	s := &Session{ID: uuid.NewString(), TenantID: tenantID, SubjectID: subjectID, View: view}
	m.register(s)
	m.Persist(ctx, s)
	return s, nil
}

// Get returns the caller's session id. A session that is not live is
// rebuilt from the store. Returns NOT_FOUND for unknown ids and for
// sessions of other tenants.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	tenantID, _ := identity(ctx)

	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		if s.TenantID != tenantID {
			return nil, notFound(id)
		}
		s.touch(m.now())
		return s, nil
	}

	if m.store == nil {
		return nil, notFound(id)
	}
	rec, err := m.store.Load(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	view := listview.NewCoordinator(m.provider, m.listCfg, m.metrics, m.logger)
	if err := view.Restore(ctx, rec.View); err != nil {
		return nil, fmt.Errorf("restore view session %q: %w", id, err)
	}
	s = &Session{ID: rec.ID, TenantID: rec.TenantID, SubjectID: rec.SubjectID, View: view}

	m.mu.Lock()
	if existing, raced := m.sessions[id]; raced {
		m.mu.Unlock()
		existing.touch(m.now())
		return existing, nil
	}
	n := m.registerLocked(s)
	m.mu.Unlock()
	m.metrics.SetActiveViewSessions(n)

	observability.RequestLogger(ctx, m.logger).Info("view session restored", zap.String("view_id", id))
	return s, nil
}

// Persist writes the session's view state to the store. Failures are
// logged; the live session stays usable.
func (m *Manager) Persist(ctx context.Context, s *Session) {
	if m.store == nil {
		return
	}
	rec := Record{
		ID:        s.ID,
		TenantID:  s.TenantID,
		SubjectID: s.SubjectID,
		View:      s.View.Saved(),
		UpdatedAt: m.now().UTC(),
	}
	if err := m.store.Save(ctx, rec); err != nil {
		observability.RequestLogger(ctx, m.logger).Warn("view session not persisted",
			zap.String("view_id", s.ID), zap.Error(err))
	}
}

// Delete ends the caller's session and removes its persisted state.
func (m *Manager) Delete(ctx context.Context, id string) error {
	tenantID, _ := identity(ctx)

	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok && s.TenantID != tenantID {
		m.mu.Unlock()
		return notFound(id)
	}
	delete(m.sessions, id)
	n := len(m.sessions)
	m.mu.Unlock()
	m.metrics.SetActiveViewSessions(n)

	if m.store != nil {
		if err := m.store.Delete(ctx, tenantID, id); err != nil {
			return err
		}
	} else if !ok {
		return notFound(id)
	}
	return nil
}

// Sweep drops live sessions idle for longer than the idle timeout and
// returns how many were dropped. Their persisted state is kept.
func (m *Manager) Sweep() int {
	if m.cfg.IdleTimeout <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.cfg.IdleTimeout)

	m.mu.Lock()
	expired := 0
	for id, s := range m.sessions {
		if s.LastUsed().Before(cutoff) {
			delete(m.sessions, id)
			expired++
		}
	}
	n := len(m.sessions)
	m.mu.Unlock()

	m.metrics.SetActiveViewSessions(n)
	if expired > 0 {
		m.metrics.RecordViewSessionsExpired(expired)
	}
	return expired
}

// expirer is implemented by stores that need explicit cleanup of old
// records.
type expirer interface {
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// Run sweeps idle sessions every sweep interval until ctx is done. Stores
// without native expiry are purged of records older than the store TTL.
func (m *Manager) Run(ctx context.Context) {
	interval := m.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.logger.Debug("idle view sessions dropped", zap.Int("count", n))
			}
			m.purgeStore(ctx)
		}
	}
}

func (m *Manager) purgeStore(ctx context.Context) {
	e, ok := m.store.(expirer)
	if !ok || m.cfg.Store.TTL <= 0 {
		return
	}
	n, err := e.DeleteExpired(ctx, m.now().Add(-m.cfg.Store.TTL))
	if err != nil {
		m.logger.Error("view session purge failed", zap.Error(err))
		return
	}
	if n > 0 {
		m.logger.Debug("expired view sessions purged", zap.Int64("count", n))
	}
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) register(s *Session) {
	m.mu.Lock()
	n := m.registerLocked(s)
	m.mu.Unlock()
	m.metrics.SetActiveViewSessions(n)
}

// registerLocked adds s, evicting the least recently used session when the
// manager is full. It returns the new number of live sessions.
func (m *Manager) registerLocked(s *Session) int {
	s.touch(m.now())
	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		var oldest *Session
		for _, candidate := range m.sessions {
			if oldest == nil || candidate.LastUsed().Before(oldest.LastUsed()) {
				oldest = candidate
			}
		}
		if oldest != nil {
			delete(m.sessions, oldest.ID)
			m.metrics.RecordViewSessionsExpired(1)
		}
	}
	m.sessions[s.ID] = s
	return len(m.sessions)
}

func identity(ctx context.Context) (tenantID, subjectID string) {
	if rctx := model.RequestContextFrom(ctx); rctx != nil {
		return rctx.TenantID, rctx.SubjectID
	}
	return "", ""
}

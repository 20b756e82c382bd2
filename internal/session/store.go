// Package session keeps list view sessions: live coordinators held in
// memory plus their persisted view state, so a session survives a restart
// or moves to another replica.
package session

import (
	"context"
	"time"

	"github.com/pitabwire/masterdata/internal/listview"
)

// Record is the persisted form of a view session.
type Record struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenant_id"`
	SubjectID string         `json:"subject_id"`
	View      listview.Saved `json:"view"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Store persists view session records.
type Store interface {
	// Save creates or replaces the record with rec.ID.
	Save(ctx context.Context, rec Record) error

	// Load retrieves a record scoped to a tenant. Returns NOT_FOUND if the
	// record doesn't exist, has expired or belongs to a different tenant.
	Load(ctx context.Context, tenantID, id string) (Record, error)

	// Delete removes a record. Deleting a missing record is not an error.
	Delete(ctx context.Context, tenantID, id string) error
}

package repository

import (
	"context"

	"github.com/scribehq/scribe/core/internal/domain"
)

// Archive persists audit snapshots of resolved records. It is an optional
// sink: the core operates fully in-memory when no archive is configured.
type Archive interface {
	ArchiveError(ctx context.Context, record domain.TrackedError) error
	ArchiveAlert(ctx context.Context, alert domain.Alert) error
	ListArchivedAlerts(ctx context.Context, limit int) ([]domain.Alert, error)
}

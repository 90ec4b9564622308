package store

import (
	"context"

	"github.com/joescharf/autorebase/internal/models"
)

// HistoryStore archives finished rebase sessions.
type HistoryStore interface {
	RecordSession(ctx context.Context, e *models.HistoryEntry) error
	ListSessions(ctx context.Context, repoPath string, limit int) ([]*models.HistoryEntry, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

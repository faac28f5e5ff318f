package store

import (
	"context"

	"github.com/joescharf/nixpkgs-review/internal/models"
)

// Store persists the review-run history.
type Store interface {
	RecordRun(ctx context.Context, run *models.ReviewRun) error
	GetRun(ctx context.Context, id string) (*models.ReviewRun, error)
	ListRuns(ctx context.Context, limit int) ([]*models.ReviewRun, error)

	Migrate(ctx context.Context) error
	Close() error
}

package queue

import (
	"context"
	"errors"
	"strings"
)

var ErrArchiveNotFound = errors.New("task not found in archive")

// Archive persists terminal task snapshots outside the in-memory store,
// so results stay queryable after the retention sweep. The in-memory
// store remains authoritative for live tasks.
type Archive interface {
	SaveTask(ctx context.Context, task Task) error
	GetTask(ctx context.Context, id string) (Task, error)
	Close() error
}

// NewArchive returns a Postgres-backed archive when databaseURL is set,
// nil otherwise (archiving disabled).
func NewArchive(ctx context.Context, databaseURL string) (Archive, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, nil
	}
	return NewPostgresArchive(ctx, databaseURL)
}

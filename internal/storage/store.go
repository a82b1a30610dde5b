// Package storage keeps the last snapshot of each content source so a
// restarted service can serve lists before its first refresh.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vollahub/internal/config"
	"vollahub/pkg/types"
)

// Snapshot is the state of one source after a crawl run.
type Snapshot struct {
	Kind       types.CrawlKind      `json:"kind"`
	RunID      string               `json:"run_id"`
	Status     string               `json:"status"`
	Message    string               `json:"message"`
	Error      string               `json:"error,omitempty"`
	Page       string               `json:"page,omitempty"`
	Count      int                  `json:"count"`
	Entries    []types.ContentEntry `json:"entries"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt time.Time            `json:"finished_at"`
}

// Store persists snapshots keyed by crawl kind.
type Store interface {
	Save(ctx context.Context, snap Snapshot) error
	Get(ctx context.Context, kind types.CrawlKind) (Snapshot, bool, error)
	List(ctx context.Context) ([]Snapshot, error)
	Remove(ctx context.Context, kind types.CrawlKind) error
	Close() error
}

// ErrInvalidSnapshot reports a snapshot that cannot be keyed.
var ErrInvalidSnapshot = errors.New("snapshot missing kind")

// Open builds the store selected by cfg.Driver. The "none" driver returns a
// nil Store and no error.
func Open(cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case "", "none":
		return nil, nil
	case "postgres":
		s, err := NewPostgresStore(cfg.Postgres)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "redis":
		s, err := NewRedisStore(cfg.Redis)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

func validate(snap Snapshot) error {
	if snap.Kind == "" {
		return ErrInvalidSnapshot
	}
	return nil
}

package api

import (
	"time"

	"vollahub/internal/storage"
	"vollahub/pkg/types"
)

// SourceSummary surfaces the state of one source without its entries.
type SourceSummary struct {
	Kind       types.CrawlKind `json:"kind"`
	RunID      string          `json:"run_id,omitempty"`
	Status     string          `json:"status"`
	Message    string          `json:"message,omitempty"`
	Error      string          `json:"error,omitempty"`
	Page       string          `json:"page,omitempty"`
	Count      int             `json:"count"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// SourceDetail extends the summary with the (filtered) entries.
type SourceDetail struct {
	SourceSummary
	Query   string               `json:"query,omitempty"`
	Entries []types.ContentEntry `json:"entries"`
}

// RefreshResponse acknowledges a started refresh.
type RefreshResponse struct {
	Kind  types.CrawlKind `json:"kind"`
	RunID string          `json:"run_id"`
}

func summarize(snap storage.Snapshot) SourceSummary {
	out := SourceSummary{
		Kind:    snap.Kind,
		RunID:   snap.RunID,
		Status:  snap.Status,
		Message: snap.Message,
		Error:   snap.Error,
		Page:    snap.Page,
		Count:   snap.Count,
	}
	if !snap.StartedAt.IsZero() {
		started := snap.StartedAt
		out.StartedAt = &started
	}
	if !snap.FinishedAt.IsZero() {
		finished := snap.FinishedAt
		out.FinishedAt = &finished
	}
	return out
}

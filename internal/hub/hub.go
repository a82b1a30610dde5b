// Package hub keeps one content list per crawl source and coordinates
// refreshes for the presentation layer.
package hub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"vollahub/internal/crawler"
	"vollahub/internal/logger"
	"vollahub/internal/storage"
	"vollahub/pkg/types"
)

var (
	// ErrUnknownSource is returned for kinds the hub does not serve.
	ErrUnknownSource = errors.New("unknown source")
	// ErrNotRunning is returned when cancelling a source that is idle.
	ErrNotRunning = errors.New("source not refreshing")
	// ErrSuperseded is returned by Await when a newer refresh replaced the run.
	ErrSuperseded = errors.New("run superseded by a newer refresh")
	// ErrClosed is returned by Refresh after Close.
	ErrClosed = errors.New("hub closed")
)

// Status is the presentation state of a source.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusDone      Status = "done"
	StatusEmpty     Status = "empty"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// User-visible status messages.
const (
	MessageRunning   = "Wird geladen"
	MessageEmpty     = "Keine Inhalte gefunden"
	MessageCancelled = "Abgebrochen"
	messageFailed    = "Fehler beim Laden: %s"
	messageDone      = "%d Einträge geladen"
)

// Event is delivered to subscribers whenever a source snapshot changes.
type Event struct {
	Type      string           `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Snapshot  storage.Snapshot `json:"snapshot"`
}

// Runner executes a single crawl. *crawler.Orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context, kind types.CrawlKind, opts crawler.RunOptions) types.Result
	Kinds() []types.CrawlKind
}

// Manager owns the snapshot of every enabled source and allows at most one
// active crawl per source. A refresh while a crawl is running cancels the
// running crawl and discards its result.
type Manager struct {
	runner Runner
	store  storage.Store
	log    logger.Logger

	root     context.Context
	stopRoot context.CancelFunc

	mu      sync.Mutex
	sources map[types.CrawlKind]*source
	order   []types.CrawlKind
	closed  bool
	wg      sync.WaitGroup
}

type source struct {
	snap    storage.Snapshot
	current *run
	subs    map[chan Event]struct{}
}

type run struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
}

// Option customises a Manager.
type Option func(*Manager)

// WithStore persists finished snapshots.
func WithStore(s storage.Store) Option {
	return func(m *Manager) { m.store = s }
}

// WithLogger sets the manager logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// NewManager registers every kind the runner reports as enabled.
func NewManager(runner Runner, opts ...Option) *Manager {
	root, stop := context.WithCancel(context.Background())
	m := &Manager{
		runner:   runner,
		log:      logger.NewNop(),
		root:     root,
		stopRoot: stop,
		sources:  make(map[types.CrawlKind]*source),
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, kind := range runner.Kinds() {
		m.order = append(m.order, kind)
		m.sources[kind] = &source{
			snap: storage.Snapshot{Kind: kind, Status: string(StatusIdle), Entries: []types.ContentEntry{}},
			subs: make(map[chan Event]struct{}),
		}
	}
	return m
}

// Load restores persisted snapshots. Sources that are already refreshing
// keep their live state.
func (m *Manager) Load(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	snaps, err := m.store.List(ctx)
	if err != nil {
		return fmt.Errorf("load snapshots: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, snap := range snaps {
		src, ok := m.sources[snap.Kind]
		if !ok || src.current != nil {
			continue
		}
		if snap.Entries == nil {
			snap.Entries = []types.ContentEntry{}
		}
		src.snap = snap
	}
	m.log.Info("Snapshots restored", logger.Int("count", len(snaps)))
	return nil
}

// Kinds lists the served sources in presentation order.
func (m *Manager) Kinds() []types.CrawlKind {
	return append([]types.CrawlKind(nil), m.order...)
}

// Snapshot returns a copy of the current state of kind.
func (m *Manager) Snapshot(kind types.CrawlKind) (storage.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.sources[kind]
	if !ok {
		return storage.Snapshot{}, fmt.Errorf("%w: %q", ErrUnknownSource, kind)
	}
	return copySnapshot(src.snap), nil
}

// Snapshots returns copies of all sources in presentation order.
func (m *Manager) Snapshots() []storage.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]storage.Snapshot, 0, len(m.order))
	for _, kind := range m.order {
		out = append(out, copySnapshot(m.sources[kind].snap))
	}
	return out
}

// Refresh starts a crawl of kind and returns its run id. A crawl already in
// flight for the same kind is cancelled and its result will be dropped.
func (m *Manager) Refresh(kind types.CrawlKind, page string) (string, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrClosed
	}
	src, ok := m.sources[kind]
	if !ok {
		m.mu.Unlock()
		return "", fmt.Errorf("%w: %q", ErrUnknownSource, kind)
	}
	if prev := src.current; prev != nil {
		prev.cancel()
		m.log.Debug("Superseding running crawl", logger.String("kind", string(kind)), logger.String("run_id", prev.id))
	}

	ctx, cancel := context.WithCancel(m.root)
	r := &run{id: uuid.NewString(), cancel: cancel, done: make(chan struct{})}
	src.current = r
	src.snap.RunID = r.id
	src.snap.Status = string(StatusRunning)
	src.snap.Message = MessageRunning
	src.snap.Error = ""
	src.snap.Page = strings.TrimSpace(page)
	src.snap.StartedAt = time.Now()
	src.snap.FinishedAt = time.Time{}
	m.broadcastLocked(src, "started")
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		defer close(r.done)
		defer cancel()
		res := m.runner.Run(ctx, kind, crawler.RunOptions{Page: page, RunID: r.id})
		m.complete(kind, r, res)
	}()
	return r.id, nil
}

func (m *Manager) complete(kind types.CrawlKind, r *run, res types.Result) {
	m.mu.Lock()
	src := m.sources[kind]
	if src.current != r {
		m.mu.Unlock()
		m.log.Debug("Discarding superseded crawl result",
			logger.String("kind", string(kind)),
			logger.String("run_id", r.id),
			logger.String("outcome", string(res.Outcome)),
		)
		return
	}
	src.current = nil
	src.snap.FinishedAt = time.Now()
	src.snap.Error = ""
	switch res.Outcome {
	case types.OutcomeDone:
		src.snap.Status = string(StatusDone)
		src.snap.Entries = res.Entries
		src.snap.Message = fmt.Sprintf(messageDone, len(res.Entries))
	case types.OutcomeEmpty:
		src.snap.Status = string(StatusEmpty)
		src.snap.Entries = []types.ContentEntry{}
		src.snap.Message = MessageEmpty
	case types.OutcomeCancelled:
		src.snap.Status = string(StatusCancelled)
		src.snap.Message = MessageCancelled
	default:
		src.snap.Status = string(StatusFailed)
		src.snap.Entries = []types.ContentEntry{}
		src.snap.Error = failureReason(res.Err)
		src.snap.Message = fmt.Sprintf(messageFailed, src.snap.Error)
	}
	src.snap.Count = len(src.snap.Entries)
	snap := copySnapshot(src.snap)
	m.broadcastLocked(src, "finished")
	m.mu.Unlock()

	if m.store == nil || (res.Outcome != types.OutcomeDone && res.Outcome != types.OutcomeEmpty) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.store.Save(ctx, snap); err != nil {
		m.log.Warn("Failed to persist snapshot", logger.String("kind", string(kind)), logger.Error(err))
	}
}

// Cancel stops the running crawl of kind.
func (m *Manager) Cancel(kind types.CrawlKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.sources[kind]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSource, kind)
	}
	if src.current == nil {
		return fmt.Errorf("%w: %s", ErrNotRunning, kind)
	}
	src.current.cancel()
	m.broadcastLocked(src, "cancelling")
	return nil
}

// Await blocks until the run finished and returns the resulting snapshot.
// ErrSuperseded is returned when a newer refresh replaced the run.
func (m *Manager) Await(ctx context.Context, kind types.CrawlKind, runID string) (storage.Snapshot, error) {
	m.mu.Lock()
	src, ok := m.sources[kind]
	if !ok {
		m.mu.Unlock()
		return storage.Snapshot{}, fmt.Errorf("%w: %q", ErrUnknownSource, kind)
	}
	var done chan struct{}
	if src.current != nil && src.current.id == runID {
		done = src.current.done
	}
	m.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return storage.Snapshot{}, ctx.Err()
		}
	}
	snap, err := m.Snapshot(kind)
	if err != nil {
		return storage.Snapshot{}, err
	}
	if snap.RunID != runID {
		return snap, ErrSuperseded
	}
	return snap, nil
}

// RefreshAll refreshes every source concurrently and waits for the runs.
func (m *Manager) RefreshAll(ctx context.Context) ([]storage.Snapshot, error) {
	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range m.order {
		id, err := m.Refresh(kind, "")
		if err != nil {
			return nil, err
		}
		g.Go(func() error {
			_, err := m.Await(gctx, kind, id)
			if errors.Is(err, ErrSuperseded) {
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return m.Snapshots(), nil
}

// Subscribe registers a listener for kind. The first event carries the
// current snapshot. Slow listeners miss events rather than block crawls.
func (m *Manager) Subscribe(kind types.CrawlKind) (<-chan Event, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.sources[kind]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownSource, kind)
	}
	ch := make(chan Event, 16)
	src.subs[ch] = struct{}{}
	ch <- Event{Type: "snapshot", Timestamp: time.Now(), Snapshot: copySnapshot(src.snap)}

	unsubscribe := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := src.subs[ch]; ok {
			delete(src.subs, ch)
			close(ch)
		}
	}
	return ch, unsubscribe, nil
}

func (m *Manager) broadcastLocked(src *source, eventType string) {
	if len(src.subs) == 0 {
		return
	}
	ev := Event{Type: eventType, Timestamp: time.Now(), Snapshot: copySnapshot(src.snap)}
	for ch := range src.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close cancels all running crawls and waits for them to return. Later
// refreshes fail with ErrClosed.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.stopRoot()
	m.wg.Wait()
}

// Filter returns the entries whose title or excerpt contains query,
// ignoring case. An empty query returns every entry.
func Filter(entries []types.ContentEntry, query string) []types.ContentEntry {
	query = strings.ToLower(strings.TrimSpace(query))
	out := make([]types.ContentEntry, 0, len(entries))
	for _, e := range entries {
		if query == "" ||
			strings.Contains(strings.ToLower(e.Title), query) ||
			strings.Contains(strings.ToLower(e.Excerpt), query) {
			out = append(out, e)
		}
	}
	return out
}

func failureReason(err error) string {
	if err == nil {
		return "unbekannter Fehler"
	}
	var stageErr *crawler.StageError
	if errors.As(err, &stageErr) && stageErr.Err != nil {
		return stageErr.Err.Error()
	}
	return err.Error()
}

func copySnapshot(s storage.Snapshot) storage.Snapshot {
	s.Entries = append([]types.ContentEntry{}, s.Entries...)
	return s
}

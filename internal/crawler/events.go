package crawler

import (
	"time"

	"vollahub/internal/fetcher"
	"vollahub/internal/logger"
	"vollahub/pkg/types"
)

// State is a step of the crawl state machine.
type State string

const (
	StateIdle       State = "idle"
	StateFetching   State = "fetching"
	StateExtracting State = "extracting"
	StateFiltering  State = "filtering"
	StateDeduping   State = "deduping"
	StateEnriching  State = "enriching"
	StateSorting    State = "sorting"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// EventType tells sinks what an Event reports.
type EventType string

const (
	// EventTransition is emitted when the run enters a new state.
	EventTransition EventType = "transition"
	// EventItem reports one enrichment sub-fetch.
	EventItem EventType = "item"
	// EventFinished is emitted once per run with the final outcome.
	EventFinished EventType = "finished"
)

// Event is a structured diagnostic emitted by the orchestrator.
type Event struct {
	Type     EventType
	Kind     types.CrawlKind
	RunID    string
	State    State
	Outcome  types.Outcome
	URL      string
	Count    int
	Skipped  bool
	Err      error
	Duration time.Duration
	Time     time.Time
}

// Sink receives events. Emit must not block for long; it runs on the crawl goroutine.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(ev Event) { f(ev) }

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Emit(Event) {}

// MultiSink fans one event out to several sinks.
type MultiSink []Sink

func (m MultiSink) Emit(ev Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ev)
		}
	}
}

// LogSink writes events to a structured logger.
type LogSink struct {
	Logger logger.Logger
}

// NewLogSink wraps log; a nil logger discards.
func NewLogSink(log logger.Logger) LogSink {
	if log == nil {
		log = logger.NewNop()
	}
	return LogSink{Logger: log}
}

func (s LogSink) Emit(ev Event) {
	if s.Logger == nil {
		return
	}
	fields := []logger.Field{
		logger.String("kind", string(ev.Kind)),
		logger.String("state", string(ev.State)),
	}
	if ev.RunID != "" {
		fields = append(fields, logger.String("run_id", ev.RunID))
	}
	if ev.URL != "" {
		fields = append(fields, logger.String("url", ev.URL))
	}

	switch ev.Type {
	case EventTransition:
		s.Logger.Debug("crawl state", fields...)
	case EventItem:
		fields = append(fields, logger.Duration("duration", ev.Duration))
		switch {
		case ev.Skipped:
			s.Logger.Info("enrichment skipped", append(fields, logger.Error(ev.Err))...)
		case ev.Err != nil:
			fields = append(fields, logger.String("error_kind", fetcher.KindOf(ev.Err)), logger.Error(ev.Err))
			s.Logger.Warn("enrichment failed, keeping entry without excerpt", fields...)
		default:
			s.Logger.Debug("entry enriched", fields...)
		}
	case EventFinished:
		fields = append(fields,
			logger.String("outcome", string(ev.Outcome)),
			logger.Int("entries", ev.Count),
			logger.Duration("duration", ev.Duration),
		)
		switch ev.Outcome {
		case types.OutcomeFailed:
			fields = append(fields, logger.String("error_kind", fetcher.KindOf(ev.Err)), logger.Error(ev.Err))
			s.Logger.Error("crawl failed", fields...)
		case types.OutcomeEmpty:
			s.Logger.Warn("crawl returned no entries", fields...)
		case types.OutcomeCancelled:
			s.Logger.Info("crawl cancelled", fields...)
		default:
			s.Logger.Info("crawl finished", fields...)
		}
	}
}

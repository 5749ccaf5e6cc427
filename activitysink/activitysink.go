// Package activitysink provides onboard.ActivitySink implementations: a
// database backed store, Prometheus counters and a fanout.
package activitysink

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	onboard "github.com/goliatone/go-onboard"
	"github.com/goliatone/go-onboard/activitymap"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Store persists events to the activity log.
type Store struct {
	log  onboard.ActivityLog
	opts []activitymap.Option
}

var _ onboard.ActivitySink = (*Store)(nil)

// NewStore returns a sink writing to log. opts tune normalization.
func NewStore(log onboard.ActivityLog, opts ...activitymap.Option) *Store {
	return &Store{log: log, opts: opts}
}

// Record satisfies onboard.ActivitySink.
func (s *Store) Record(ctx context.Context, event onboard.ActivityEvent) error {
	return s.log.Append(ctx, ToRecord(event, s.opts...))
}

// ToRecord normalizes event into an activity_log row.
func ToRecord(event onboard.ActivityEvent, opts ...activitymap.Option) *onboard.ActivityRecord {
	normalized := activitymap.Normalize(event, opts...)
	return &onboard.ActivityRecord{
		ID:         uuid.New(),
		EventType:  normalized.Verb,
		ActorID:    normalized.ActorID,
		ActorType:  event.Actor.Type,
		SubjectID:  normalized.ObjectID,
		FromStatus: string(event.FromStatus),
		ToStatus:   string(event.ToStatus),
		Metadata:   normalized.Metadata,
		OccurredAt: normalized.OccurredAt,
	}
}

// Metrics counts events by type and object type.
type Metrics struct {
	events *prometheus.CounterVec
}

var _ onboard.ActivitySink = (*Metrics)(nil)

// NewMetrics registers the onboard_activity_events_total counter with reg.
// A nil reg uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Metrics{
		events: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "onboard",
				Name:      "activity_events_total",
				Help:      "Total number of recorded activity events",
			},
			[]string{"event_type", "object_type"},
		),
	}
}

// Record satisfies onboard.ActivitySink.
func (m *Metrics) Record(_ context.Context, event onboard.ActivityEvent) error {
	m.events.WithLabelValues(string(event.EventType), activitymap.ObjectType(event.EventType)).Inc()
	return nil
}

// Counter exposes the underlying counter, mostly for tests.
func (m *Metrics) Counter() *prometheus.CounterVec {
	return m.events
}

// Fanout records each event to every sink. All sinks run even when one
// fails, the errors are joined.
type Fanout []onboard.ActivitySink

var _ onboard.ActivitySink = Fanout(nil)

// NewFanout drops nil sinks.
func NewFanout(sinks ...onboard.ActivitySink) Fanout {
	out := make(Fanout, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			out = append(out, sink)
		}
	}
	return out
}

// Record satisfies onboard.ActivitySink.
func (f Fanout) Record(ctx context.Context, event onboard.ActivityEvent) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	var errs []error
	for _, sink := range f {
		if err := sink.Record(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return goerrors.Join(errs...)
}

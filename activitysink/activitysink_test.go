package activitysink_test

import (
	"context"
	"errors"
	"testing"
	"time"

	onboard "github.com/goliatone/go-onboard"
	"github.com/goliatone/go-onboard/activitysink"
	"github.com/goliatone/go-onboard/internal/app"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorePersistsNormalizedRecord(t *testing.T) {
	ctx := context.Background()

	db, err := app.OpenDatabase(ctx, ":memory:", app.WithAutoMigrate(true))
	require.NoError(t, err)
	defer db.Close()

	log := onboard.NewActivityLogRepository(db.DB())
	sink := activitysink.NewStore(log)

	at := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	err = sink.Record(ctx, onboard.ActivityEvent{
		EventType:  onboard.ActivityEventAccessRequestTransition,
		Actor:      onboard.ActorRef{ID: "admin-1", Type: onboard.ActorTypeAdmin},
		SubjectID:  "req-1",
		FromStatus: onboard.AccessRequestPending,
		ToStatus:   onboard.AccessRequestProcessed,
		Metadata:   map[string]any{"identity_id": "user-1"},
		OccurredAt: at,
	})
	require.NoError(t, err)

	records, err := log.ListBySubject(ctx, "req-1")
	require.NoError(t, err)
	require.Len(t, records, 1)

	record := records[0]
	assert.Equal(t, string(onboard.ActivityEventAccessRequestTransition), record.EventType)
	assert.Equal(t, "admin-1", record.ActorID)
	assert.Equal(t, onboard.ActorTypeAdmin, record.ActorType)
	assert.Equal(t, "pending", record.FromStatus)
	assert.Equal(t, "processed", record.ToStatus)
	assert.Equal(t, "user-1", record.Metadata["identity_id"])
	assert.True(t, record.OccurredAt.Equal(at))
}

func TestToRecordDefaultsActor(t *testing.T) {
	record := activitysink.ToRecord(onboard.ActivityEvent{
		EventType: onboard.ActivityEventLoginFailure,
	})

	assert.Equal(t, "system", record.ActorID)
	assert.NotEmpty(t, record.ID)
	assert.False(t, record.OccurredAt.IsZero())
}

func TestMetricsCountsByEventType(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := activitysink.NewMetrics(reg)
	ctx := context.Background()

	require.NoError(t, sink.Record(ctx, onboard.ActivityEvent{EventType: onboard.ActivityEventAccountProvisioned}))
	require.NoError(t, sink.Record(ctx, onboard.ActivityEvent{EventType: onboard.ActivityEventAccountProvisioned}))
	require.NoError(t, sink.Record(ctx, onboard.ActivityEvent{EventType: onboard.ActivityEventLoginSuccess}))

	assert.Equal(t, float64(2), testutil.ToFloat64(sink.Counter().WithLabelValues(
		string(onboard.ActivityEventAccountProvisioned), "account",
	)))
	assert.Equal(t, float64(1), testutil.ToFloat64(sink.Counter().WithLabelValues(
		string(onboard.ActivityEventLoginSuccess), "session",
	)))
	assert.Equal(t, 2, testutil.CollectAndCount(sink.Counter()))
}

func TestFanoutRecordsEverySinkAndJoinsErrors(t *testing.T) {
	var seen []string
	boom := errors.New("boom")

	fanout := activitysink.NewFanout(
		onboard.ActivitySinkFunc(func(ctx context.Context, event onboard.ActivityEvent) error {
			seen = append(seen, "first")
			return boom
		}),
		nil,
		onboard.ActivitySinkFunc(func(ctx context.Context, event onboard.ActivityEvent) error {
			seen = append(seen, "second")
			assert.False(t, event.OccurredAt.IsZero())
			return nil
		}),
	)

	assert.Len(t, fanout, 2)

	err := fanout.Record(context.Background(), onboard.ActivityEvent{EventType: onboard.ActivityEventLogout})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"first", "second"}, seen)
}

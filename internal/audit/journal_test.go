package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittorpc/pkg/config"
	"github.com/marmos91/dittorpc/pkg/session"
)

func openJournal(t *testing.T, now func() time.Time) *Journal {
	t.Helper()
	j, err := Open(Options{InMemory: true, Now: now})
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Options{})
	assert.Error(t, err)
}

func TestAppendAndList(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := base
	j := openJournal(t, func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	})

	require.NoError(t, j.Append(ctx, Record{Event: EventCreated, SessionID: "a", Application: "demo"}))
	require.NoError(t, j.Append(ctx, Record{Event: EventCreated, SessionID: "b", Application: "other"}))
	require.NoError(t, j.Append(ctx, Record{Event: EventDestroyed, SessionID: "a", Application: "demo", Reason: "client"}))
	require.NoError(t, j.Append(ctx, Record{Event: EventFailed, Application: "demo", Error: "denied"}))

	tests := []struct {
		name  string
		query Query
		want  []Event
	}{
		{"all newest first", Query{}, []Event{EventFailed, EventDestroyed, EventCreated, EventCreated}},
		{"by session", Query{SessionID: "a"}, []Event{EventDestroyed, EventCreated}},
		{"by application", Query{Application: "other"}, []Event{EventCreated}},
		{"by event", Query{Event: EventFailed}, []Event{EventFailed}},
		{"limit", Query{Limit: 2}, []Event{EventFailed, EventDestroyed}},
		{"since", Query{Since: base.Add(3 * time.Second)}, []Event{EventFailed, EventDestroyed}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := j.List(ctx, tt.query)
			require.NoError(t, err)
			got := make([]Event, len(records))
			for i, r := range records {
				got[i] = r.Event
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestListCancelledContext(t *testing.T) {
	j := openJournal(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := j.List(ctx, Query{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, j.Append(ctx, Record{}), context.Canceled)
}

func TestSessionListener(t *testing.T) {
	ctx := context.Background()
	j := openJournal(t, nil)

	lookup := config.MapLookup{"applications.demo.lifecycle_class": "generic"}
	m := session.NewManager(lookup, nil, session.Options{ReaperInterval: time.Hour})
	t.Cleanup(func() { m.Close(ctx) })
	m.AddListener(j)
	m.AddFailedListener(j)

	s, err := m.CreateSession(ctx, session.CreateRequest{Application: "demo"})
	require.NoError(t, err)
	require.NoError(t, m.Destroy(ctx, s.ID(), session.ReasonClient))

	j.SessionFailed(ctx, "demo", errors.New("bad password"))

	records, err := j.List(ctx, Query{Application: "demo"})
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, EventFailed, records[0].Event)
	assert.Equal(t, "bad password", records[0].Error)
	assert.Equal(t, EventDestroyed, records[1].Event)
	assert.Equal(t, s.ID(), records[1].SessionID)
	assert.Equal(t, session.ReasonClient, records[1].Reason)
	assert.Equal(t, EventCreated, records[2].Event)
}

func TestHealthcheck(t *testing.T) {
	j := openJournal(t, nil)
	assert.NoError(t, j.Healthcheck(context.Background()))
}

package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/themeagent/internal/events"
	"github.com/fyrsmithlabs/themeagent/internal/outcome"
	"github.com/fyrsmithlabs/themeagent/internal/transcript"
)

func sampleEvents(runID string) []events.Event {
	bus := events.NewBus()
	em := events.NewEmitter(bus, runID, "coordinator", time.Now())
	em.Thinking("plan", "Reading header", "", nil)
	em.ToolCall(events.ToolCall{ID: "call_1", Name: "read_file", Input: map[string]any{"path": "sections/header.liquid"}, Class: "read"})
	em.ToolResult(events.ToolResult{ID: "call_1", Content: "   1| <header>"})
	em.Outcome(outcome.Outcome{Status: outcome.NoChange, ChangeSummary: "already sticky"})
	bus.Close()
	return bus.History()
}

func record(id, conv string, status outcome.Status, finished time.Time) Record {
	return Record{
		RunID:          id,
		ConversationID: conv,
		Request:        "Make the header sticky",
		Tier:           "SIMPLE",
		Outcome:        outcome.Outcome{Status: status},
		Iterations:     3,
		CostCents:      0.42,
		StartedAt:      finished.Add(-time.Minute),
		FinishedAt:     finished,
	}
}

func TestArchive_SaveGetEvents(t *testing.T) {
	ctx := context.Background()
	s, err := Open(filepath.Join(t.TempDir(), "runs", "archive.db"), nil)
	require.NoError(t, err)
	defer s.Close()

	now := time.Now().UTC().Truncate(time.Millisecond)
	evs := sampleEvents("run-1")
	rec := record("run-1", "conv-1", outcome.NoChange, now)
	rec.Outcome.ChangeSummary = "already sticky"
	require.NoError(t, s.Save(ctx, rec, evs))

	got, err := s.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "conv-1", got.ConversationID)
	assert.Equal(t, outcome.NoChange, got.Outcome.Status)
	assert.Equal(t, "already sticky", got.Outcome.ChangeSummary)
	assert.Equal(t, 4, got.EventCount)
	assert.True(t, now.Equal(got.FinishedAt))

	stored, err := s.Events(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, evs, stored)

	tr := transcript.Build(stored, transcript.Options{})
	require.Len(t, tr.Calls, 1)
	assert.Equal(t, "read_file", tr.Calls[0].Name)

	// Saving again replaces the record.
	rec.Outcome.Status = outcome.Applied
	rec.Outcome.ChangedFiles = 1
	require.NoError(t, s.Save(ctx, rec, evs))
	got, err = s.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, outcome.Applied, got.Outcome.Status)
}

func TestArchive_List(t *testing.T) {
	ctx := context.Background()
	s, err := Open(":memory:", nil)
	require.NoError(t, err)
	defer s.Close()

	base := time.Now().UTC()
	require.NoError(t, s.Save(ctx, record("a", "conv-1", outcome.Applied, base), nil))
	require.NoError(t, s.Save(ctx, record("b", "conv-1", outcome.BlockedPolicy, base.Add(time.Second)), nil))
	require.NoError(t, s.Save(ctx, record("c", "conv-2", outcome.Applied, base.Add(2*time.Second)), nil))

	tests := []struct {
		name string
		req  ListRequest
		want []string
	}{
		{"all newest first", ListRequest{}, []string{"c", "b", "a"}},
		{"by conversation", ListRequest{ConversationID: "conv-1"}, []string{"b", "a"}},
		{"by status", ListRequest{Status: outcome.Applied}, []string{"c", "a"}},
		{"limited", ListRequest{Limit: 1}, []string{"c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := s.List(ctx, tt.req)
			require.NoError(t, err)
			ids := make([]string, len(recs))
			for i, r := range recs {
				ids[i] = r.RunID
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestArchive_Errors(t *testing.T) {
	ctx := context.Background()
	s, err := Open(":memory:", nil)
	require.NoError(t, err)

	assert.ErrorIs(t, s.Save(ctx, Record{}, nil), ErrInvalidID)
	_, err = s.Get(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidID)
	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Events(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "missing"), ErrNotFound)

	require.NoError(t, s.Save(ctx, record("x", "c", outcome.Applied, time.Now()), nil))
	require.NoError(t, s.Delete(ctx, "x"))
	_, err = s.Get(ctx, "x")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	_, err = s.Get(ctx, "x")
	assert.ErrorIs(t, err, ErrClosed)
}

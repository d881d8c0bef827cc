package connector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/settleline-recon-engine/internal/domain/shared"
	"github.com/settleline-recon-engine/internal/domain/staging"
)

func TestHistory_EvictsOldestBeyondSize(t *testing.T) {
	h := NewHistory(2)
	h.Record("axis", RunRecord{Rows: 1})
	h.Record("axis", RunRecord{Rows: 2})
	h.Record("axis", RunRecord{Rows: 3})

	runs := h.Snapshot("axis")
	require.Len(t, runs, 2)
	assert.Equal(t, 2, runs[0].Rows)
	assert.Equal(t, 3, runs[1].Rows)
}

func TestHistory_HealthFor(t *testing.T) {
	now := time.Now().UTC()

	t.Run("no runs yet is degraded", func(t *testing.T) {
		h := NewHistory(3)
		health := h.HealthFor("axis", shared.SourceSideBank)
		assert.Equal(t, HealthDegraded, health.State)
		assert.Nil(t, health.LastRunAt)
	})

	t.Run("last run succeeded is healthy", func(t *testing.T) {
		h := NewHistory(3)
		h.Record("axis", RunRecord{StartedAt: now, Rows: 40, Err: "timeout"})
		h.Record("axis", RunRecord{StartedAt: now, Rows: 42})
		health := h.HealthFor("axis", shared.SourceSideBank)
		assert.Equal(t, HealthHealthy, health.State)
		assert.Equal(t, 42, health.LastRows)
		assert.Empty(t, health.LastError)
	})

	t.Run("last run failed with earlier success is degraded", func(t *testing.T) {
		h := NewHistory(3)
		h.Record("axis", RunRecord{StartedAt: now, Rows: 42})
		h.Record("axis", RunRecord{StartedAt: now, Err: "timeout"})
		health := h.HealthFor("axis", shared.SourceSideBank)
		assert.Equal(t, HealthDegraded, health.State)
		assert.Equal(t, "timeout", health.LastError)
		assert.NotEmpty(t, health.Hint)
	})

	t.Run("window of only failures is unhealthy", func(t *testing.T) {
		h := NewHistory(3)
		h.Record("axis", RunRecord{StartedAt: now, Err: "connection refused"})
		h.Record("axis", RunRecord{StartedAt: now, Err: "connection refused"})
		health := h.HealthFor("axis", shared.SourceSideBank)
		assert.Equal(t, HealthUnhealthy, health.State)
		assert.NotEmpty(t, health.Hint)
	})
}

func TestStaticFetcher(t *testing.T) {
	rows := []*staging.RawRow{
		{ID: uuid.New(), Side: shared.SourceSidePG, CycleDate: "2024-03-15"},
	}

	f := NewStaticFetcher("pg", shared.SourceSidePG, rows, nil)
	assert.Equal(t, "pg", f.Name())
	assert.Equal(t, shared.SourceSidePG, f.Side())

	got, err := f.Fetch(context.Background(), "2024-03-15")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, rows[0].ID, got[0].ID)

	failing := NewStaticFetcher("bank", shared.SourceSideBank, nil, errors.New("offline"))
	_, err = failing.Fetch(context.Background(), "2024-03-15")
	assert.EqualError(t, err, "offline")
}

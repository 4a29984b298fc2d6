package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/gulprep/internal/config"
)

func TestPurgeRuns_Batches(t *testing.T) {
	db := &fakeDB{tags: []string{"DELETE 10", "DELETE 10", "DELETE 3"}}

	n, err := New(db).PurgeRuns(context.Background(), 30, 10)
	require.NoError(t, err)

	assert.Equal(t, int64(23), n)
	require.Len(t, db.execs, 3)
	assert.Contains(t, db.execs[0], "DELETE FROM gul_runs")
	assert.Equal(t, []any{int32(30), int32(10)}, db.args[0])
}

func TestPurgeRuns_NothingExpired(t *testing.T) {
	db := &fakeDB{tags: []string{"DELETE 0"}}

	n, err := New(db).PurgeRuns(context.Background(), 30, 10)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, db.execs, 1)
}

func TestPurgeRuns_Error(t *testing.T) {
	db := &fakeDB{execErr: errors.New("connection reset")}

	_, err := New(db).PurgeRuns(context.Background(), 30, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "purge runs")
}

func TestPurgeRuns_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	db := &fakeDB{tags: []string{"DELETE 10"}}

	_, err := New(db).PurgeRuns(ctx, 30, 10)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, db.execs)
}

func TestStartRetention_Disabled(t *testing.T) {
	db := &fakeDB{}
	New(db).StartRetention(context.Background(), config.ArchiveConfig{RetentionDays: 0})
	assert.Empty(t, db.execs)
}

func TestStartRetention_StopsOnCancel(t *testing.T) {
	db := &fakeDB{tags: []string{"DELETE 0"}}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		New(db).StartRetention(ctx, config.ArchiveConfig{RetentionDays: 7, BatchSize: 100, CheckInterval: time.Hour})
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("StartRetention did not return after cancel")
	}
}

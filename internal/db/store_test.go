package db

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sstent/stravasync/internal/logger"
	"github.com/sstent/stravasync/internal/strava"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "test.db"), logger.Mock())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func summary(id int64, startUnix int64, withTrack bool) strava.ActivitySummary {
	s := strava.ActivitySummary{
		ID:             id,
		Name:           fmt.Sprintf("run %d", id),
		Type:           "Run",
		Distance:       5000,
		MovingTime:     1800,
		ElapsedTime:    1900,
		ElevationGain:  42,
		StartDate:      time.Unix(startUnix, 0).UTC(),
		StartDateLocal: time.Unix(startUnix, 0).UTC().Format(time.RFC3339),
	}
	if withTrack {
		s.StartLatLng = []float64{51.5, -0.1}
	}
	s.Raw, _ = json.Marshal(map[string]int64{"id": id})
	return s
}

func TestUpsertActivities_InsertThenUpdate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	page := []strava.ActivitySummary{summary(1, 100, true), summary(2, 200, false)}

	inserted, updated, err := store.UpsertActivities(ctx, page)
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)
	assert.Equal(t, 0, updated)

	// Re-applying the same page is idempotent: rows are replaced, not
	// duplicated.
	inserted, updated, err = store.UpsertActivities(ctx, page)
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)
	assert.Equal(t, 2, updated)

	activities, err := store.ListPaginated(ctx, FilterAll, 1, 0)
	require.NoError(t, err)
	assert.Len(t, activities, 2)
}

func TestUpsertActivities_ReplacesMetadata(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, _, err := store.UpsertActivities(ctx, []strava.ActivitySummary{summary(1, 100, true)})
	require.NoError(t, err)

	renamed := summary(1, 100, true)
	renamed.Name = "morning commute"
	_, _, err = store.UpsertActivities(ctx, []strava.ActivitySummary{renamed})
	require.NoError(t, err)

	activities, err := store.ListPaginated(ctx, FilterAll, 1, 0)
	require.NoError(t, err)
	require.Len(t, activities, 1)
	assert.Equal(t, "morning commute", activities[0].Name)
}

func TestMaxStartDate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	watermark, err := store.MaxStartDate(ctx)
	require.NoError(t, err)
	assert.True(t, watermark.IsZero(), "empty table has no watermark")

	_, _, err = store.UpsertActivities(ctx, []strava.ActivitySummary{
		summary(1, 100, true), summary(2, 300, true), summary(3, 200, true),
	})
	require.NoError(t, err)

	watermark, err = store.MaxStartDate(ctx)
	require.NoError(t, err)
	assert.Equal(t, time.Unix(300, 0).UTC(), watermark)
}

func TestTruncateActivities_ResetsWatermark(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, _, err := store.UpsertActivities(ctx, []strava.ActivitySummary{summary(1, 100, true)})
	require.NoError(t, err)

	require.NoError(t, store.TruncateActivities(ctx))

	watermark, err := store.MaxStartDate(ctx)
	require.NoError(t, err)
	assert.True(t, watermark.IsZero())
}

func TestListGPXCandidates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, _, err := store.UpsertActivities(ctx, []strava.ActivitySummary{
		summary(1, 100, true),  // candidate
		summary(2, 200, false), // no GPS track
		summary(3, 300, true),  // already cached below
		summary(4, 400, true),  // failed attempt, still a candidate
	})
	require.NoError(t, err)

	require.NoError(t, store.RecordDownload(ctx, Download{
		ActivityID: 3, CachePath: "/cache/gpx/3.gpx", Status: StatusCached, LastAttempt: time.Now(),
	}))
	require.NoError(t, store.RecordDownload(ctx, Download{
		ActivityID: 4, Status: StatusFailed, Error: "boom", LastAttempt: time.Now(),
	}))

	ids, err := store.ListGPXCandidates(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 1}, ids, "newest first, cached and trackless excluded")
}

func TestAllTrackIDs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, _, err := store.UpsertActivities(ctx, []strava.ActivitySummary{
		summary(1, 100, true), summary(2, 200, false), summary(3, 300, true),
	})
	require.NoError(t, err)

	ids, err := store.AllTrackIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1}, ids)
}

func TestRecordDownload_Upsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := Download{ActivityID: 1, Status: StatusFailed, Error: "export not ready", LastAttempt: time.Unix(1000, 0)}
	require.NoError(t, store.RecordDownload(ctx, first))

	got, err := store.GetDownload(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "export not ready", got.Error)

	second := Download{ActivityID: 1, CachePath: "/cache/gpx/1.gpx", Status: StatusCached, LastAttempt: time.Unix(2000, 0)}
	require.NoError(t, store.RecordDownload(ctx, second))

	got, err = store.GetDownload(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusCached, got.Status)
	assert.Equal(t, "/cache/gpx/1.gpx", got.CachePath)
	assert.Equal(t, "", got.Error)
}

func TestGetDownload_Absent(t *testing.T) {
	store := newTestStore(t)

	got, err := store.GetDownload(context.Background(), 99)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestListPaginated_Filters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, _, err := store.UpsertActivities(ctx, []strava.ActivitySummary{
		summary(1, 100, true), summary(2, 200, true), summary(3, 300, false),
	})
	require.NoError(t, err)
	require.NoError(t, store.RecordDownload(ctx, Download{
		ActivityID: 2, CachePath: "/cache/gpx/2.gpx", Status: StatusCached, LastAttempt: time.Now(),
	}))

	t.Run("all", func(t *testing.T) {
		activities, err := store.ListPaginated(ctx, FilterAll, 1, 0)
		require.NoError(t, err)
		assert.Len(t, activities, 3)
	})

	t.Run("downloaded", func(t *testing.T) {
		activities, err := store.ListPaginated(ctx, FilterDownloaded, 1, 0)
		require.NoError(t, err)
		require.Len(t, activities, 1)
		assert.Equal(t, int64(2), activities[0].ID)
		assert.True(t, activities[0].Downloaded)
	})

	t.Run("missing", func(t *testing.T) {
		activities, err := store.ListPaginated(ctx, FilterMissing, 1, 0)
		require.NoError(t, err)
		require.Len(t, activities, 1)
		assert.Equal(t, int64(1), activities[0].ID)
	})

	t.Run("pagination", func(t *testing.T) {
		page1, err := store.ListPaginated(ctx, FilterAll, 1, 2)
		require.NoError(t, err)
		assert.Len(t, page1, 2)

		page2, err := store.ListPaginated(ctx, FilterAll, 2, 2)
		require.NoError(t, err)
		assert.Len(t, page2, 1)
	})
}

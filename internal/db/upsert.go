package db

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/sstent/stravasync/internal/strava"
)

// UpsertActivities writes one fetched page of summaries in a single
// transaction, keyed by remote id, so a page is either fully committed or
// not at all. Re-applying an already-stored summary is a no-op apart from
// refreshing mutable metadata. Returns how many rows were new vs replaced.
func (s *Store) UpsertActivities(ctx context.Context, summaries []strava.ActivitySummary) (inserted, updated int, err error) {
	if len(summaries) == 0 {
		return 0, 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin upsert transaction: %w", err)
	}
	defer tx.Rollback()

	ids := make([]int64, 0, len(summaries))
	for _, a := range summaries {
		ids = append(ids, a.ID)
	}

	rows, err := s.sb.Select("id").From("activities").
		Where(sq.Eq{"id": ids}).
		RunWith(tx).QueryContext(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("query existing activities: %w", err)
	}
	existing := make(map[int64]bool, len(ids))
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, 0, fmt.Errorf("scan existing activity id: %w", err)
		}
		existing[id] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, 0, fmt.Errorf("query existing activities: %w", err)
	}

	for _, a := range summaries {
		hasTrack := 0
		if a.HasTrack() {
			hasTrack = 1
		}
		_, err := s.sb.Insert("activities").
			Columns("id", "name", "type", "distance", "moving_time", "elapsed_time",
				"elevation_gain", "start_date", "start_date_local", "has_track", "raw_json").
			Values(a.ID, a.Name, a.Type, a.Distance, a.MovingTime, a.ElapsedTime,
				a.ElevationGain, a.StartDate.UTC().Format(time.RFC3339), a.StartDateLocal,
				hasTrack, string(a.Raw)).
			Suffix(`ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				type = excluded.type,
				distance = excluded.distance,
				moving_time = excluded.moving_time,
				elapsed_time = excluded.elapsed_time,
				elevation_gain = excluded.elevation_gain,
				start_date = excluded.start_date,
				start_date_local = excluded.start_date_local,
				has_track = excluded.has_track,
				raw_json = excluded.raw_json`).
			RunWith(tx).ExecContext(ctx)
		if err != nil {
			return 0, 0, fmt.Errorf("upsert activity %d: %w", a.ID, err)
		}
		if existing[a.ID] {
			updated++
		} else {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit upsert transaction: %w", err)
	}
	return inserted, updated, nil
}

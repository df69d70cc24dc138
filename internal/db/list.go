package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// ListFilter selects which activities a listing returns.
type ListFilter int

const (
	FilterAll ListFilter = iota
	FilterMissing
	FilterDownloaded
)

// ListPaginated returns a page of activities joined with their GPX download
// status. page starts at 1; pageSize 0 disables pagination.
func (s *Store) ListPaginated(ctx context.Context, filter ListFilter, page, pageSize int) ([]Activity, error) {
	q := s.sb.Select(
		"a.id", "a.name", "a.type", "a.distance", "a.moving_time", "a.elapsed_time",
		"a.elevation_gain", "a.start_date", "a.start_date_local", "a.has_track",
		"COALESCE(d.status, '')").
		From("activities a").
		LeftJoin("gpx_downloads d ON d.activity_id = a.id").
		OrderBy("a.start_date DESC")

	switch filter {
	case FilterMissing:
		q = q.Where(sq.Eq{"a.has_track": 1}).
			Where("COALESCE(d.status, '') != ?", StatusCached)
	case FilterDownloaded:
		q = q.Where("COALESCE(d.status, '') = ?", StatusCached)
	}

	if pageSize > 0 {
		q = q.Limit(uint64(pageSize)).Offset(uint64((page - 1) * pageSize))
	}

	rows, err := q.RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()

	return scanActivities(rows)
}

// scanActivities converts joined rows to Activity values.
func scanActivities(rows *sql.Rows) ([]Activity, error) {
	var activities []Activity
	for rows.Next() {
		var a Activity
		var startDate string
		var hasTrack int
		var status string

		if err := rows.Scan(&a.ID, &a.Name, &a.Type, &a.Distance, &a.MovingTime,
			&a.ElapsedTime, &a.ElevationGain, &startDate, &a.StartDateLocal,
			&hasTrack, &status); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}

		a.StartDate, _ = time.Parse(time.RFC3339, startDate)
		a.HasTrack = hasTrack == 1
		a.Downloaded = status == StatusCached
		activities = append(activities, a)
	}
	return activities, rows.Err()
}

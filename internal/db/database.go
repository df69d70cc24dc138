package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Store is the SQLite sink for activity rows and GPX download records.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
	sb  sq.StatementBuilderType
}

// Activity is one stored activity row. Downloaded reflects the joined GPX
// download status for listing.
type Activity struct {
	ID             int64
	Name           string
	Type           string
	Distance       float64
	MovingTime     int64
	ElapsedTime    int64
	ElevationGain  float64
	StartDate      time.Time
	StartDateLocal string
	HasTrack       bool
	Downloaded     bool
}

// GPX download statuses.
const (
	StatusPending = "pending"
	StatusCached  = "cached"
	StatusFailed  = "failed"
)

// Download records the outcome of the latest GPX fetch attempt for one
// activity. The cache file itself, not this row, is the source of truth for
// "already downloaded"; the row exists for reporting and candidate queries.
type Download struct {
	ActivityID  int64
	CachePath   string
	Status      string
	Error       string
	LastAttempt time.Time
}

// NewStore opens (creating if needed) the SQLite database at path.
func NewStore(path string, log zerolog.Logger) (*Store, error) {
	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_journal_mode=WAL", path)
	handle, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{
		db:  handle,
		log: log.With().Str("module", "db").Logger(),
		sb:  sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}
	if err := s.createSchema(); err != nil {
		handle.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS activities (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		distance REAL NOT NULL DEFAULT 0,
		moving_time INTEGER NOT NULL DEFAULT 0,
		elapsed_time INTEGER NOT NULL DEFAULT 0,
		elevation_gain REAL NOT NULL DEFAULT 0,
		start_date TEXT NOT NULL,
		start_date_local TEXT NOT NULL,
		has_track INTEGER NOT NULL DEFAULT 0,
		raw_json TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_activities_start_date ON activities(start_date);
	CREATE INDEX IF NOT EXISTS idx_activities_has_track ON activities(has_track);

	CREATE TABLE IF NOT EXISTS gpx_downloads (
		activity_id INTEGER PRIMARY KEY,
		cache_path TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		error TEXT NOT NULL DEFAULT '',
		last_attempt TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_gpx_downloads_status ON gpx_downloads(status);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// MaxStartDate returns the newest stored activity start time, the watermark
// for incremental sync. Zero time when the table is empty.
func (s *Store) MaxStartDate(ctx context.Context) (time.Time, error) {
	var max sql.NullString
	err := s.sb.Select("MAX(start_date)").From("activities").
		RunWith(s.db).QueryRowContext(ctx).Scan(&max)
	if err != nil {
		return time.Time{}, fmt.Errorf("query max start date: %w", err)
	}
	if !max.Valid || max.String == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, max.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored start date %q: %w", max.String, err)
	}
	return t, nil
}

// TruncateActivities deletes all activity rows. Explicit destructive
// operation backing the --truncate flag, never called implicitly.
func (s *Store) TruncateActivities(ctx context.Context) error {
	res, err := s.sb.Delete("activities").RunWith(s.db).ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("truncate activities: %w", err)
	}
	n, _ := res.RowsAffected()
	s.log.Info().Int64("deleted", n).Msg("activities table truncated")
	return nil
}

// ListGPXCandidates returns ids of activities that have a GPS track and no
// cached GPX yet, newest first.
func (s *Store) ListGPXCandidates(ctx context.Context) ([]int64, error) {
	rows, err := s.sb.Select("id").From("activities").
		Where(sq.Eq{"has_track": 1}).
		Where("id NOT IN (SELECT activity_id FROM gpx_downloads WHERE status = ?)", StatusCached).
		OrderBy("start_date DESC").
		RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("query gpx candidates: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// AllTrackIDs returns ids of every activity with a GPS track, newest first.
func (s *Store) AllTrackIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.sb.Select("id").From("activities").
		Where(sq.Eq{"has_track": 1}).
		OrderBy("start_date DESC").
		RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("query track ids: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// RecordDownload upserts the download record for one activity.
func (s *Store) RecordDownload(ctx context.Context, d Download) error {
	_, err := s.sb.Insert("gpx_downloads").
		Columns("activity_id", "cache_path", "status", "error", "last_attempt").
		Values(d.ActivityID, d.CachePath, d.Status, d.Error, d.LastAttempt.UTC().Format(time.RFC3339)).
		Suffix(`ON CONFLICT(activity_id) DO UPDATE SET
			cache_path = excluded.cache_path,
			status = excluded.status,
			error = excluded.error,
			last_attempt = excluded.last_attempt`).
		RunWith(s.db).ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("record download for activity %d: %w", d.ActivityID, err)
	}
	return nil
}

// GetDownload returns the download record for an activity, or nil when no
// attempt was recorded yet.
func (s *Store) GetDownload(ctx context.Context, activityID int64) (*Download, error) {
	var d Download
	var lastAttempt string
	err := s.sb.Select("activity_id", "cache_path", "status", "error", "last_attempt").
		From("gpx_downloads").Where(sq.Eq{"activity_id": activityID}).
		RunWith(s.db).QueryRowContext(ctx).
		Scan(&d.ActivityID, &d.CachePath, &d.Status, &d.Error, &lastAttempt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get download for activity %d: %w", activityID, err)
	}
	d.LastAttempt, _ = time.Parse(time.RFC3339, lastAttempt)
	return &d, nil
}

func scanIDs(rows *sql.Rows) ([]int64, error) {
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan activity id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

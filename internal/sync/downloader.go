package sync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sstent/stravasync/internal/db"
	"github.com/sstent/stravasync/internal/strava"
)

// Exporter fetches the GPX track bytes for one activity.
type Exporter interface {
	ExportGPX(ctx context.Context, activityID int64) ([]byte, error)
}

// TrackCache is the on-disk GPX store consulted before any network fetch.
type TrackCache interface {
	Get(activityID int64) (path string, ok bool, err error)
	Put(activityID int64, data []byte) (path string, err error)
}

// DownloadSink records per-activity download outcomes.
type DownloadSink interface {
	RecordDownload(ctx context.Context, d db.Download) error
}

// DownloadReport aggregates one SyncTracks run.
type DownloadReport struct {
	Requested  int
	Hits       int
	Downloaded int
	Failed     int
}

// Downloader fetches GPX tracks for known activities through the cache.
type Downloader struct {
	client      Exporter
	cache       TrackCache
	store       DownloadSink
	log         zerolog.Logger
	concurrency int
	now         func() time.Time
}

// NewDownloader creates a track downloader with a bounded worker pool.
func NewDownloader(client Exporter, cache TrackCache, store DownloadSink, concurrency int, log zerolog.Logger) *Downloader {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Downloader{
		client:      client,
		cache:       cache,
		store:       store,
		log:         log.With().Str("module", "downloader").Logger(),
		concurrency: concurrency,
		now:         time.Now,
	}
}

// SyncTracks fetches the track for each id. Cache hits skip network I/O
// entirely, so re-running after a partial failure is cheap. A failure on
// one activity is recorded and never aborts the batch; only cancellation
// and dead credentials stop the run, keeping already-cached work intact.
func (d *Downloader) SyncTracks(ctx context.Context, ids []int64) (*DownloadReport, error) {
	report := &DownloadReport{Requested: len(ids)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)

	for _, id := range ids {
		id := id
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			hit, err := d.syncOne(gctx, id)
			mu.Lock()
			switch {
			case err != nil:
				report.Failed++
			case hit:
				report.Hits++
			default:
				report.Downloaded++
			}
			mu.Unlock()

			// Per-activity failures are local; a revoked credential or a
			// cancelled context dooms every remaining item, so stop.
			if err != nil && (errors.Is(err, strava.ErrReauthRequired) ||
				errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
				return err
			}
			return nil
		})
	}

	err := g.Wait()
	d.log.Info().Int("requested", report.Requested).Int("cached", report.Downloaded).
		Int("hits", report.Hits).Int("failed", report.Failed).Msg("track download pass finished")
	return report, err
}

// syncOne resolves one activity's track, returning whether the cache
// already had it.
func (d *Downloader) syncOne(ctx context.Context, id int64) (hit bool, err error) {
	if path, ok, err := d.cache.Get(id); err != nil {
		d.recordFailure(ctx, id, err)
		return false, err
	} else if ok {
		d.record(ctx, db.Download{ActivityID: id, CachePath: path, Status: db.StatusCached, LastAttempt: d.now()})
		return true, nil
	}

	data, err := d.client.ExportGPX(ctx, id)
	if err != nil {
		d.log.Warn().Err(err).Int64("activity_id", id).Msg("track export failed")
		d.recordFailure(ctx, id, err)
		return false, err
	}

	path, err := d.cache.Put(id, data)
	if err != nil {
		d.recordFailure(ctx, id, err)
		return false, err
	}

	d.record(ctx, db.Download{ActivityID: id, CachePath: path, Status: db.StatusCached, LastAttempt: d.now()})
	d.log.Debug().Int64("activity_id", id).Str("path", path).Msg("track cached")
	return false, nil
}

func (d *Downloader) recordFailure(ctx context.Context, id int64, cause error) {
	d.record(ctx, db.Download{
		ActivityID:  id,
		Status:      db.StatusFailed,
		Error:       cause.Error(),
		LastAttempt: d.now(),
	})
}

func (d *Downloader) record(ctx context.Context, rec db.Download) {
	if err := d.store.RecordDownload(ctx, rec); err != nil {
		d.log.Error().Err(err).Int64("activity_id", rec.ActivityID).Msg("failed to record download status")
	}
}

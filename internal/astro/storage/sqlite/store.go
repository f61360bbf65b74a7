// Package sqlite persists pipeline outputs — batch runs, per-image
// outcomes, calibration solutions, and calibrated measurements — so a batch
// can be resumed without reprocessing completed images.
//
// It is an adapter, not a domain layer: schema creation lives in the db
// package, and all functions here work against a plain *sql.DB.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/halo-data/lightcurve.report/internal/astro"
	"github.com/halo-data/lightcurve.report/internal/astro/lightcurve"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("sqlite: not found")

// Run is a persisted batch run.
type Run struct {
	RunID            string
	StartedUnixNanos int64
	ImageCount       int
	Succeeded        int
	Failed           int
}

// Store wraps the database handle for pipeline persistence.
type Store struct {
	db *sql.DB
}

// NewStore returns a Store over an opened database with the schema applied.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// InsertRun records a batch run header.
func (s *Store) InsertRun(run Run) error {
	_, err := s.db.Exec(`
		INSERT INTO pipeline_runs (run_id, started_unix_nanos, image_count, succeeded, failed)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			image_count = excluded.image_count,
			succeeded = excluded.succeeded,
			failed = excluded.failed
	`, run.RunID, run.StartedUnixNanos, run.ImageCount, run.Succeeded, run.Failed)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// ListRuns returns persisted runs, most recent first.
func (s *Store) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT run_id, started_unix_nanos, image_count, succeeded, failed
		FROM pipeline_runs ORDER BY started_unix_nanos DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.RunID, &r.StartedUnixNanos, &r.ImageCount, &r.Succeeded, &r.Failed); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// InsertOutcome records one image's outcome within a run.
func (s *Store) InsertOutcome(runID string, res astro.ImageResult) error {
	_, err := s.db.Exec(`
		INSERT INTO image_outcomes (run_id, image_index, image_id, outcome, detail, source_count, anchor_count, reg_rms_arcsec)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, image_index) DO UPDATE SET
			image_id = excluded.image_id,
			outcome = excluded.outcome,
			detail = excluded.detail,
			source_count = excluded.source_count,
			anchor_count = excluded.anchor_count,
			reg_rms_arcsec = excluded.reg_rms_arcsec
	`, runID, res.Index, res.ImageID, string(res.Outcome), res.Detail, res.SourceCount, res.AnchorCount, res.RegRMSArcsec)
	if err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

// GetRunOutcomes returns a run's outcomes in image-index order.
func (s *Store) GetRunOutcomes(runID string) ([]astro.ImageResult, error) {
	rows, err := s.db.Query(`
		SELECT image_index, image_id, outcome, detail, source_count, anchor_count, reg_rms_arcsec
		FROM image_outcomes WHERE run_id = ? ORDER BY image_index
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("get run outcomes: %w", err)
	}
	defer rows.Close()

	var results []astro.ImageResult
	for rows.Next() {
		var r astro.ImageResult
		var outcome string
		if err := rows.Scan(&r.Index, &r.ImageID, &outcome, &r.Detail, &r.SourceCount, &r.AnchorCount, &r.RegRMSArcsec); err != nil {
			return nil, err
		}
		r.Outcome = astro.Outcome(outcome)
		results = append(results, r)
	}
	return results, rows.Err()
}

// UpsertCalibration writes a per-image calibration solution. Invalid
// solutions are persisted too: downstream consumers must be able to
// distinguish "not processed" from "processed but untrustworthy".
func (s *Store) UpsertCalibration(sol astro.CalibrationSolution) error {
	_, err := s.db.Exec(`
		INSERT INTO calibrations (
			image_id, band, zero_point, zero_point_err, color_term, fit_color,
			rms, accepted, rejected, valid, reason
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(image_id) DO UPDATE SET
			band = excluded.band,
			zero_point = excluded.zero_point,
			zero_point_err = excluded.zero_point_err,
			color_term = excluded.color_term,
			fit_color = excluded.fit_color,
			rms = excluded.rms,
			accepted = excluded.accepted,
			rejected = excluded.rejected,
			valid = excluded.valid,
			reason = excluded.reason
	`, sol.ImageID, sol.Band, sol.ZeroPoint, sol.ZeroPointErr, sol.ColorTerm, sol.FitColor,
		sol.RMS, sol.Accepted, sol.Rejected, sol.Valid, sol.Reason)
	if err != nil {
		return fmt.Errorf("upsert calibration: %w", err)
	}
	return nil
}

// GetCalibration returns the stored solution for an image, or ErrNotFound.
func (s *Store) GetCalibration(imageID string) (astro.CalibrationSolution, error) {
	var sol astro.CalibrationSolution
	err := s.db.QueryRow(`
		SELECT image_id, band, zero_point, zero_point_err, color_term, fit_color,
		       rms, accepted, rejected, valid, reason
		FROM calibrations WHERE image_id = ?
	`, imageID).Scan(&sol.ImageID, &sol.Band, &sol.ZeroPoint, &sol.ZeroPointErr, &sol.ColorTerm,
		&sol.FitColor, &sol.RMS, &sol.Accepted, &sol.Rejected, &sol.Valid, &sol.Reason)
	if errors.Is(err, sql.ErrNoRows) {
		return sol, ErrNotFound
	}
	if err != nil {
		return sol, fmt.Errorf("get calibration: %w", err)
	}
	return sol, nil
}

// InsertPhotometry writes one calibrated measurement.
func (s *Store) InsertPhotometry(p astro.Photometry) error {
	_, err := s.db.Exec(`
		INSERT INTO lightcurve_points (object_id, image_id, epoch_unix_nanos, mag, mag_err, low_quality)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(object_id, image_id) DO UPDATE SET
			epoch_unix_nanos = excluded.epoch_unix_nanos,
			mag = excluded.mag,
			mag_err = excluded.mag_err,
			low_quality = excluded.low_quality
	`, p.ObjectID, p.ImageID, p.Epoch.UnixNano(), p.Mag, p.MagErr, p.LowQuality)
	if err != nil {
		return fmt.Errorf("insert photometry: %w", err)
	}
	return nil
}

// GetPhotometryByImage returns an image's stored measurements, used when
// replaying a completed image on resume.
func (s *Store) GetPhotometryByImage(imageID string) ([]astro.Photometry, error) {
	rows, err := s.db.Query(`
		SELECT object_id, image_id, epoch_unix_nanos, mag, mag_err, low_quality
		FROM lightcurve_points WHERE image_id = ? ORDER BY object_id
	`, imageID)
	if err != nil {
		return nil, fmt.Errorf("get photometry: %w", err)
	}
	defer rows.Close()
	return scanPhotometry(rows)
}

// GetObjectRecord returns one object's epoch-ordered time series.
func (s *Store) GetObjectRecord(objectID string) (lightcurve.ObjectRecord, error) {
	rows, err := s.db.Query(`
		SELECT object_id, image_id, epoch_unix_nanos, mag, mag_err, low_quality
		FROM lightcurve_points WHERE object_id = ? ORDER BY epoch_unix_nanos
	`, objectID)
	if err != nil {
		return lightcurve.ObjectRecord{}, fmt.Errorf("get object record: %w", err)
	}
	defer rows.Close()

	points, err := scanPhotometry(rows)
	if err != nil {
		return lightcurve.ObjectRecord{}, err
	}
	if len(points) == 0 {
		return lightcurve.ObjectRecord{}, ErrNotFound
	}

	rec := lightcurve.ObjectRecord{ObjectID: objectID}
	for _, p := range points {
		rec.Points = append(rec.Points, lightcurve.TimePoint{
			Epoch:      p.Epoch,
			ImageID:    p.ImageID,
			Mag:        p.Mag,
			MagErr:     p.MagErr,
			LowQuality: p.LowQuality,
		})
	}
	return rec, nil
}

// ListObjectIDs returns the identifiers of all objects with stored points.
func (s *Store) ListObjectIDs() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT object_id FROM lightcurve_points ORDER BY object_id`)
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanPhotometry(rows *sql.Rows) ([]astro.Photometry, error) {
	var points []astro.Photometry
	for rows.Next() {
		var p astro.Photometry
		var nanos int64
		if err := rows.Scan(&p.ObjectID, &p.ImageID, &nanos, &p.Mag, &p.MagErr, &p.LowQuality); err != nil {
			return nil, err
		}
		p.Epoch = time.Unix(0, nanos).UTC()
		points = append(points, p)
	}
	return points, rows.Err()
}

// Package db owns the sqlite database: schema creation, migrations, and
// admin debug routes.
package db

import (
	"compress/gzip"
	"database/sql"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"
)

type DB struct {
	*sql.DB
}

// Schema is the canonical table layout. migrations/0001_init.up.sql carries
// the same statements for golang-migrate managed deployments.
const Schema = `
	CREATE TABLE IF NOT EXISTS pipeline_runs (
		run_id TEXT PRIMARY KEY,
		started_unix_nanos BIGINT NOT NULL,
		image_count INTEGER NOT NULL,
		succeeded INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS image_outcomes (
		run_id TEXT NOT NULL,
		image_index INTEGER NOT NULL,
		image_id TEXT NOT NULL,
		outcome TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		source_count INTEGER NOT NULL DEFAULT 0,
		anchor_count INTEGER NOT NULL DEFAULT 0,
		reg_rms_arcsec DOUBLE NOT NULL DEFAULT 0,
		PRIMARY KEY (run_id, image_index),
		FOREIGN KEY (run_id) REFERENCES pipeline_runs(run_id)
	);
	CREATE TABLE IF NOT EXISTS calibrations (
		image_id TEXT PRIMARY KEY,
		band TEXT NOT NULL,
		zero_point DOUBLE NOT NULL,
		zero_point_err DOUBLE NOT NULL,
		color_term DOUBLE NOT NULL DEFAULT 0,
		fit_color BOOLEAN NOT NULL DEFAULT 0,
		rms DOUBLE NOT NULL,
		accepted INTEGER NOT NULL,
		rejected INTEGER NOT NULL,
		valid BOOLEAN NOT NULL,
		reason TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS lightcurve_points (
		object_id TEXT NOT NULL,
		image_id TEXT NOT NULL,
		epoch_unix_nanos BIGINT NOT NULL,
		mag DOUBLE NOT NULL,
		mag_err DOUBLE NOT NULL,
		low_quality BOOLEAN NOT NULL DEFAULT 0,
		PRIMARY KEY (object_id, image_id)
	);
	CREATE INDEX IF NOT EXISTS idx_lightcurve_points_image
		ON lightcurve_points(image_id);
	CREATE INDEX IF NOT EXISTS idx_lightcurve_points_epoch
		ON lightcurve_points(object_id, epoch_unix_nanos);
`

// NewDB opens (creating if needed) the pipeline database at path.
func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &DB{db}, nil
}

// AttachAdminRoutes mounts the live-SQL debugger and backup endpoint.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://lightcurve.db", db.DB, &tailsql.DBOptions{
		Label: "Lightcurve DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		unixTime := time.Now().Unix()
		backupPath := fmt.Sprintf("backup-%d.db", unixTime)
		if _, err := db.DB.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Encoding", "gzip")

		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}
		defer func() {
			backupFile.Close()
			if err := os.Remove(backupPath); err != nil {
				log.Printf("Failed to remove backup file: %v", err)
			}
		}()

		gzipWriter := gzip.NewWriter(w)
		defer gzipWriter.Close()
		if _, err := io.Copy(gzipWriter, backupFile); err != nil {
			http.Error(w, fmt.Sprintf("Failed to write backup file: %v", err), http.StatusInternalServerError)
			return
		}
	}))
}

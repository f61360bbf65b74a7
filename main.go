package main

import (
	"context"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/halo-data/lightcurve.report/api"
	"github.com/halo-data/lightcurve.report/db"
	"github.com/halo-data/lightcurve.report/internal/astro"
	"github.com/halo-data/lightcurve.report/internal/astro/pipeline"
	"github.com/halo-data/lightcurve.report/internal/astro/storage/sqlite"
	"github.com/halo-data/lightcurve.report/internal/config"
	"github.com/halo-data/lightcurve.report/internal/fixture"
)

var (
	listen        = flag.String("listen", ":8080", "Listen address")
	dbFile        = flag.String("db", "lightcurve.db", "Path to the sqlite database")
	configPath    = flag.String("config", "", "Path to a tuning config JSON file (optional)")
	fixturePath   = flag.String("fixture", "", "Run a batch over the given fixture file before serving")
	serve         = flag.Bool("serve", true, "Serve the HTTP API after any batch run")
	migrateCmd    = flag.String("migrate", "", "Run a migration command (up|down|version) and exit")
	migrationsDir = flag.String("migrations", "migrations", "Directory holding migration files")
	debugLog      = flag.Bool("debug-log", false, "Enable diagnostic logging")
	traceLog      = flag.Bool("trace-log", false, "Enable trace logging (very verbose)")
)

func runMigrations(d *db.DB) {
	switch *migrateCmd {
	case "up":
		if err := d.MigrateUp(*migrationsDir); err != nil {
			log.Fatalf("migrate up failed: %v", err)
		}
		log.Print("migrations applied")
	case "down":
		if err := d.MigrateDown(*migrationsDir); err != nil {
			log.Fatalf("migrate down failed: %v", err)
		}
		log.Print("migrations rolled back")
	case "version":
		version, dirty, err := d.MigrateVersion(*migrationsDir)
		if err != nil {
			log.Fatalf("migrate version failed: %v", err)
		}
		log.Printf("migration version %d (dirty=%v)", version, dirty)
	default:
		log.Fatalf("unknown migrate command %q (want up, down, or version)", *migrateCmd)
	}
}

func runBatch(ctx context.Context, d *db.DB, cfg pipeline.Config) {
	f, err := fixture.Load(*fixturePath)
	if err != nil {
		log.Fatalf("failed to load fixture: %v", err)
	}

	p := pipeline.New(f.Catalog(), fixture.NewDetector(f), sqlite.NewStore(d.DB), cfg)
	report, err := p.Run(ctx, f.ImageList())
	if err != nil {
		log.Fatalf("batch run failed: %v", err)
	}

	for _, res := range report.Results {
		if res.Outcome != astro.OutcomeSucceeded {
			log.Printf("image %s: %s (%s)", res.ImageID, res.Outcome, res.Detail)
		}
	}
	log.Printf("run %s: %d/%d images succeeded, %d light curves",
		report.RunID, report.Succeeded, len(report.Results), len(report.Records))
}

func main() {
	flag.Parse()

	diag, trace := io.Discard, io.Discard
	if *debugLog {
		diag = os.Stderr
	}
	if *traceLog {
		diag, trace = os.Stderr, os.Stderr
	}
	astro.SetLogWriters(os.Stderr, diag, trace)

	d, err := db.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer d.Close()

	if *migrateCmd != "" {
		runMigrations(d)
		return
	}

	cfg := pipeline.DefaultConfig()
	if *configPath != "" {
		tuning, err := config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load tuning config: %v", err)
		}
		cfg = pipeline.ConfigFromTuning(tuning)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *fixturePath != "" {
		runBatch(ctx, d, cfg)
		if !*serve {
			return
		}
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(d).ServeMux()
		server := &http.Server{
			Addr:    *listen,
			Handler: mux,
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			log.Printf("serving on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

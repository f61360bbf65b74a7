package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/halo-data/lightcurve.report/db"
	"github.com/halo-data/lightcurve.report/internal/astro/storage/sqlite"
)

// Server exposes the persisted pipeline results over HTTP: run summaries,
// per-image outcomes, object lists, and light curves as JSON or rendered
// charts.
type Server struct {
	db    *db.DB
	store *sqlite.Store
}

func NewServer(database *db.DB) *Server {
	return &Server{
		db:    database,
		store: sqlite.NewStore(database.DB),
	}
}

func (s *Server) homeHandler(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("Welcome to the Lightcurve Server!"))
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/runs", s.listRuns)
	mux.HandleFunc("/api/outcomes", s.runOutcomes)
	mux.HandleFunc("/api/objects", s.listObjects)
	mux.HandleFunc("/api/lightcurve", s.getLightcurve)
	mux.HandleFunc("/charts/lightcurve", s.lightcurveChart)
	mux.HandleFunc("/", s.homeHandler)
	s.db.AttachAdminRoutes(mux)
	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil {
			limit = v
		}
	}
	runs, err := s.store.ListRuns(limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list runs: %v", err))
		return
	}
	s.writeJSON(w, runs)
}

func (s *Server) runOutcomes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	runID := r.URL.Query().Get("run_id")
	if runID == "" {
		s.writeJSONError(w, http.StatusBadRequest, "run_id is required")
		return
	}
	results, err := s.store.GetRunOutcomes(runID)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get outcomes: %v", err))
		return
	}
	if len(results) == 0 {
		s.writeJSONError(w, http.StatusNotFound, "no outcomes for run "+runID)
		return
	}
	s.writeJSON(w, results)
}

func (s *Server) listObjects(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ids, err := s.store.ListObjectIDs()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list objects: %v", err))
		return
	}
	if ids == nil {
		ids = []string{}
	}
	s.writeJSON(w, ids)
}

func (s *Server) getLightcurve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	objectID := r.URL.Query().Get("object_id")
	if objectID == "" {
		s.writeJSONError(w, http.StatusBadRequest, "object_id is required")
		return
	}
	rec, err := s.store.GetObjectRecord(objectID)
	if errors.Is(err, sqlite.ErrNotFound) {
		s.writeJSONError(w, http.StatusNotFound, "no light curve for object "+objectID)
		return
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get light curve: %v", err))
		return
	}
	s.writeJSON(w, rec)
}

// lightcurveChart renders an object's time series as an ECharts HTML page.
// This is a debugging-only endpoint to eyeball a light curve without a
// plotting client.
func (s *Server) lightcurveChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	objectID := r.URL.Query().Get("object_id")
	if objectID == "" {
		s.writeJSONError(w, http.StatusBadRequest, "object_id is required")
		return
	}
	rec, err := s.store.GetObjectRecord(objectID)
	if errors.Is(err, sqlite.ErrNotFound) {
		s.writeJSONError(w, http.StatusNotFound, "no light curve for object "+objectID)
		return
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get light curve: %v", err))
		return
	}

	epochs := make([]string, 0, len(rec.Points))
	mags := make([]opts.LineData, 0, len(rec.Points))
	for _, p := range rec.Points {
		epochs = append(epochs, p.Epoch.Format("2006-01-02 15:04"))
		symbol := "circle"
		if p.LowQuality {
			symbol = "triangle"
		}
		mags = append(mags, opts.LineData{Value: p.Mag, Symbol: symbol})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Light Curve", Theme: "dark", Width: "1100px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Light curve " + objectID,
			Subtitle: fmt.Sprintf("%d points over %s", len(rec.Points), rec.Span()),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "mag"}),
	)
	line.SetXAxis(epochs).AddSeries("mag", mags)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

package api

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/bledoubt/internal/analysis"
	"github.com/banshee-data/bledoubt/internal/classifier"
	"github.com/banshee-data/bledoubt/internal/db"
	"github.com/banshee-data/bledoubt/internal/ingest"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// AnalysisController is the part of the analysis scheduler the API drives.
// *analysis.Controller implements it.
type AnalysisController interface {
	Status() analysis.Status
	TriggerManualRun() bool
	SetEnabled(enabled bool)
}

type Server struct {
	db         *db.DB
	ingest     *ingest.Handler
	controller AnalysisController
	classifier *classifier.Classifier
}

// NewServer wires the HTTP API to the store. controller may be nil when the
// scheduler is not running, in which case the analysis endpoints report 503.
func NewServer(store *db.DB, h *ingest.Handler, controller AnalysisController, c *classifier.Classifier) *Server {
	return &Server{
		db:         store,
		ingest:     h,
		controller: controller,
		classifier: c,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/devices", s.listDevices)
	mux.HandleFunc("/api/devices/stream", s.streamDevices)
	mux.HandleFunc("/api/devices/{address}", s.showDevice)
	mux.HandleFunc("/api/devices/{address}/trajectory", s.showTrajectory)
	mux.HandleFunc("/api/devices/{address}/safe", s.setSafe)
	mux.HandleFunc("/api/detections", s.postDetection)
	mux.HandleFunc("/api/analysis/status", s.analysisStatus)
	mux.HandleFunc("/api/analysis/run", s.analysisRun)
	mux.HandleFunc("/api/analysis/enabled", s.analysisEnabled)
	mux.HandleFunc("/api/analysis/runs", s.analysisRuns)
	mux.HandleFunc("/api/export", s.exportHistory)
	mux.HandleFunc("/api/import", s.importHistory)
	mux.HandleFunc("/api/clear", s.clearHistory)
	mux.HandleFunc("/debug/charts/trajectory", s.trajectoryChart)
	return mux
}

// Start serves the API on listen until ctx is done.
func (s *Server) Start(ctx context.Context, listen string, extra func(*http.ServeMux)) error {
	mux := s.ServeMux()
	if extra != nil {
		extra(mux)
	}
	srv := &http.Server{
		Addr:              listen,
		Handler:           LoggingMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("HTTP API listening on %s", listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	return nil
}

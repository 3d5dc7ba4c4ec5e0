package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kjannette/bo-pricewatch/internal/models"
	"github.com/kjannette/bo-pricewatch/internal/repository"
)

const maxQueryLimit = 1000

var dateRegexp = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// SchedulerStatus is satisfied by *scheduler.RunScheduler.
type SchedulerStatus interface {
	Running() bool
	Stats() (succeeded, failed, skipped int64)
}

type Server struct {
	store      repository.TableStore
	tables     map[string]models.TableSchema
	runs       *RunLog
	sched      SchedulerStatus
	location   *time.Location
	now        func() time.Time
	httpServer *http.Server
	apiKey     string
	logger     logrus.FieldLogger
}

type Options struct {
	Port       int
	APIKey     string
	CORSOrigin string
	Location   *time.Location
}

func NewServer(store repository.TableStore, tables []models.TableSchema, runs *RunLog, sched SchedulerStatus, opts Options, logger logrus.FieldLogger) *Server {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	s := &Server{
		store:    store,
		tables:   make(map[string]models.TableSchema, len(tables)),
		runs:     runs,
		sched:    sched,
		location: opts.Location,
		now:      time.Now,
		apiKey:   opts.APIKey,
		logger:   logger,
	}
	for _, t := range tables {
		s.tables[t.Name] = t
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", opts.Port),
		Handler:      s.Handler(opts.CORSOrigin),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the routed, authenticated handler.
func (s *Server) Handler(corsOrigin string) http.Handler {
	mux := http.NewServeMux()

	// Run routes
	mux.HandleFunc("GET /v1/runs/latest", s.handleLatestRun)
	mux.HandleFunc("GET /v1/runs", s.handleRuns)

	// Deviation routes
	mux.HandleFunc("GET /v1/deviations/{table}/today", s.handleDeviationsToday)
	mux.HandleFunc("GET /v1/deviations/{table}/day/{date}", s.handleDeviationsByDay)

	// Health check (no auth required)
	mux.HandleFunc("GET /health", s.handleHealth)

	return corsMiddleware(s.authMiddleware(mux), corsOrigin)
}

func (s *Server) Start() error {
	s.logger.Infof("Status API started on http://localhost%s", s.httpServer.Addr)
	s.logger.Infof("Health check: http://localhost%s/health", s.httpServer.Addr)
	if s.apiKey != "" {
		s.logger.Info("Authentication: enabled (Bearer token)")
	} else {
		s.logger.Info("Authentication: disabled (no API_KEY configured)")
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// --- middleware ---

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" || r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		auth := r.Header.Get("Authorization")
		if auth == "" {
			writeError(w, http.StatusUnauthorized, "missing Authorization header")
			return
		}

		token := strings.TrimPrefix(auth, "Bearer ")
		if token == auth || token != s.apiKey {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler, allowOrigin string) http.Handler {
	if allowOrigin == "" {
		allowOrigin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- validation helpers ---

func validateDate(date string) bool {
	if !dateRegexp.MatchString(date) {
		return false
	}
	_, err := time.Parse("2006-01-02", date)
	return err == nil
}

func parseLimit(r *http.Request, defaultLimit int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultLimit
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultLimit
	}
	if n > maxQueryLimit {
		return maxQueryLimit
	}
	return n
}

// --- response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Package server exposes the extraction pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/docextract/internal/config"
	"github.com/sells-group/docextract/internal/model"
	"github.com/sells-group/docextract/internal/monitoring"
	"github.com/sells-group/docextract/internal/pipeline"
)

const (
	rootMessage    = "PDF Processing + GPT API is running!"
	successMessage = "File processed successfully!"
	noFileMessage  = "No file uploaded"

	// multipartMemory is held in memory before spilling to temp files.
	multipartMemory = 32 << 20
)

// Processor runs the extraction pipeline for one document.
type Processor interface {
	Process(ctx context.Context, doc model.Document, opts pipeline.Options) (*model.Result, error)
	DefaultProfile() string
	Profiles() []string
}

// HealthReporter reports external dependency availability.
type HealthReporter interface {
	Status() map[string]bool
}

// Server holds the HTTP handlers.
type Server struct {
	proc    Processor
	cfg     config.ServerConfig
	metrics *monitoring.Metrics
	health  HealthReporter
}

// New creates a Server. metrics and health may be nil.
func New(proc Processor, cfg config.ServerConfig, metrics *monitoring.Metrics, health HealthReporter) *Server {
	return &Server{proc: proc, cfg: cfg, metrics: metrics, health: health}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORS.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{requestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", s.metrics.Handler())
	r.Post("/upload", s.handleUpload)
	r.Post("/upload/{profile}", s.handleUpload)

	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, rootMessage) //nolint:errcheck
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": "ok"}
	if s.health != nil {
		deps := s.health.Status()
		for _, up := range deps {
			if !up {
				body["status"] = "degraded"
			}
		}
		body["dependencies"] = deps
	}
	writeJSON(w, http.StatusOK, body)
}

// profileLabel maps a requested profile to a metric label. Names that are
// not configured collapse to "unknown" so the label set stays bounded.
func (s *Server) profileLabel(profile string) string {
	if profile == "" {
		return s.proc.DefaultProfile()
	}
	if slices.Contains(s.proc.Profiles(), profile) {
		return profile
	}
	return "unknown"
}

type uploadResponse struct {
	Message        string `json:"message"`
	ExtractedText  string `json:"extracted_text"`
	StructuredText string `json:"structured_text"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	profile := chi.URLParam(r, "profile")
	label := s.profileLabel(profile)
	log := zap.L().With(zap.String("request_id", RequestIDFromContext(r.Context())))

	status := http.StatusOK
	defer func() {
		s.metrics.ObserveRequest(label, status, time.Since(start))
	}()
	fail := func(code int, msg string) {
		status = code
		writeError(w, code, msg)
	}

	if s.cfg.MaxUploadMB > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, int64(s.cfg.MaxUploadMB)<<20)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if tooLarge(err) {
			fail(http.StatusRequestEntityTooLarge, "upload exceeds the size limit")
			return
		}
		log.Debug("server: unreadable multipart body", zap.Error(err))
		fail(http.StatusBadRequest, noFileMessage)
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck

	file, header, err := r.FormFile("file")
	if err != nil {
		fail(http.StatusBadRequest, noFileMessage)
		return
	}
	defer file.Close() //nolint:errcheck

	data, err := io.ReadAll(file)
	if err != nil {
		fail(http.StatusInternalServerError, err.Error())
		return
	}

	result, err := s.proc.Process(r.Context(), model.Document{Filename: header.Filename, Data: data}, pipeline.Options{
		Profile:   profile,
		APIKey:    r.FormValue("api_key"),
		RequestID: RequestIDFromContext(r.Context()),
	})
	if err != nil {
		var upe *pipeline.UnknownProfileError
		if errors.As(err, &upe) {
			fail(http.StatusNotFound, err.Error())
			return
		}
		log.Error("server: upload failed", zap.String("filename", header.Filename), zap.Error(err))
		fail(http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{
		Message:        successMessage,
		ExtractedText:  result.ExtractedText,
		StructuredText: result.StructuredText,
	})
}

func tooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("server: failed to write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/agroia/agroia-backend/internal/application/analyze"
	"github.com/agroia/agroia-backend/internal/application/history"
	"github.com/agroia/agroia-backend/internal/domain/analysis"
	"github.com/agroia/agroia-backend/internal/logger"
	"github.com/agroia/agroia-backend/internal/middleware"
)

// DefaultMaxUploadBytes caps the image part of an analyze request.
const DefaultMaxUploadBytes = 10 << 20

const (
	msgFileRequired     = "No se proporcionó ninguna imagen"
	msgInvalidFileType  = "Solo se permiten archivos de imagen"
	msgFileTooLarge     = "El archivo es demasiado grande"
	msgNotFound         = "Análisis no encontrado"
	msgDeleteFailed     = "Error al eliminar el análisis"
	msgStoreUnavailable = "Firebase no está configurado correctamente"
	msgUnauthorized     = "Token inválido"
	msgInternal         = "Error interno del servidor"
)

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true,
	"image/png":  true,
	"image/webp": true,
}

// HistoryService is satisfied by history.Service and history.CachedService.
type HistoryService interface {
	GetHistory(ctx context.Context, q history.HistoryQuery) (analysis.Page, error)
	Stats(ctx context.Context, owner string) (analysis.UserStats, error)
	Delete(ctx context.Context, id analysis.ID, owner string) error
	CleanupSuspicious(ctx context.Context, owner string) (int, error)
}

type AnalyzeService interface {
	Submit(ctx context.Context, cmd analyze.SubmitCommand) (analyze.SubmitResult, error)
}

type Options struct {
	Mode           string
	CORSOrigins    []string
	MaxUploadBytes int64
	RateLimiter    *middleware.RateLimiter // nil disables rate limiting
	HealthCheckers map[string]middleware.HealthChecker
}

type Router struct {
	history   HistoryService
	analyze   AnalyzeService
	log       *logger.Logger
	maxUpload int64
	verbose   bool
}

func NewRouter(hist HistoryService, an AnalyzeService, verifier analysis.TokenVerifier, log *logger.Logger, opts Options) http.Handler {
	if log == nil {
		log = logger.Nop()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	mode := strings.ToLower(opts.Mode)
	r := &Router{
		history:   hist,
		analyze:   an,
		log:       log,
		maxUpload: opts.MaxUploadBytes,
		verbose:   mode != "prod" && mode != "production",
	}

	mux := chi.NewRouter()
	mux.Use(chimw.RequestID, chimw.RealIP, middleware.Logging(log), chimw.Recoverer, middleware.Metrics)
	if len(opts.CORSOrigins) > 0 {
		mux.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	mux.Get("/", r.handleRoot)
	mux.Get("/health", middleware.HealthHandler(opts.HealthCheckers))
	mux.Get("/livez", middleware.LivenessHandler)
	mux.Handle("/metrics", middleware.MetricsHandler())

	mux.Route("/api/pest-analysis", func(rt chi.Router) {
		rt.Use(middleware.BearerAuth(verifier, log))
		if opts.RateLimiter != nil {
			rt.Use(middleware.RateLimit(opts.RateLimiter))
		}
		rt.Post("/analyze", r.wrap(r.handleAnalyze))
		rt.Get("/history", r.wrap(r.handleHistory))
		rt.Get("/stats", r.wrap(r.handleStats))
		rt.Delete("/cleanup/old-analyses", r.wrap(r.handleCleanup))
		rt.Delete("/{analysisId}", r.wrap(r.handleDelete))
	})

	return mux
}

// envelope is the body of every API response.
type envelope struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	Data         any    `json:"data,omitempty"`
	DeletedCount *int   `json:"deletedCount,omitempty"`
}

// apiError carries a status and client message chosen by a handler.
type apiError struct {
	Status  int
	Message string
	Err     error
}

func (e *apiError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *apiError) Unwrap() error { return e.Err }

func badRequest(msg string) error { return &apiError{Status: http.StatusBadRequest, Message: msg} }

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}
		status, msg := r.classify(err)
		if status >= http.StatusInternalServerError {
			r.log.Error("request failed", "path", req.URL.Path, "request_id", chimw.GetReqID(req.Context()), "error", err)
		}
		writeJSON(w, status, envelope{Success: false, Message: msg})
	}
}

func (r *Router) classify(err error) (int, string) {
	var apiErr *apiError
	switch {
	case errors.As(err, &apiErr):
		return apiErr.Status, apiErr.Message
	case errors.Is(err, analysis.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, analysis.ErrUnauthorized):
		return http.StatusUnauthorized, msgUnauthorized
	case errors.Is(err, analysis.ErrNotFound):
		return http.StatusNotFound, msgNotFound
	case errors.Is(err, analysis.ErrDeleteFailed):
		return http.StatusInternalServerError, msgDeleteFailed
	case errors.Is(err, analysis.ErrStoreUnavailable):
		if r.verbose {
			return http.StatusInternalServerError, err.Error()
		}
		return http.StatusInternalServerError, msgStoreUnavailable
	}
	if r.verbose {
		return http.StatusInternalServerError, err.Error()
	}
	return http.StatusInternalServerError, msgInternal
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ok(w http.ResponseWriter, msg string, data any) error {
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: msg, Data: data})
	return nil
}

// GET /
func (r *Router) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "AgroIA Backend API",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"health":       "/health",
			"metrics":      "/metrics",
			"pestAnalysis": "/api/pest-analysis",
		},
	})
}

// POST /api/pest-analysis/analyze (multipart: image, cropType, location, notes, photoTimestamp)
func (r *Router) handleAnalyze(w http.ResponseWriter, req *http.Request) error {
	owner := middleware.OwnerFromContext(req.Context())

	// room for the other form fields and multipart framing
	req.Body = http.MaxBytesReader(w, req.Body, r.maxUpload+1<<20)
	if err := req.ParseMultipartForm(r.maxUpload); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return &apiError{Status: http.StatusRequestEntityTooLarge, Message: msgFileTooLarge}
		}
		return &apiError{Status: http.StatusBadRequest, Message: msgFileRequired, Err: err}
	}
	defer func() {
		if req.MultipartForm != nil {
			_ = req.MultipartForm.RemoveAll()
		}
	}()

	file, fh, err := req.FormFile("image")
	if err != nil {
		return badRequest(msgFileRequired)
	}
	defer file.Close()

	contentType := strings.ToLower(fh.Header.Get("Content-Type"))
	if !allowedImageTypes[contentType] {
		return badRequest(msgInvalidFileType)
	}
	if fh.Size > r.maxUpload {
		return &apiError{Status: http.StatusRequestEntityTooLarge, Message: msgFileTooLarge}
	}
	data, err := io.ReadAll(io.LimitReader(file, r.maxUpload+1))
	if err != nil {
		return fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > r.maxUpload {
		return &apiError{Status: http.StatusRequestEntityTooLarge, Message: msgFileTooLarge}
	}
	if len(data) == 0 {
		return badRequest(msgFileRequired)
	}

	res, err := r.analyze.Submit(req.Context(), analyze.SubmitCommand{
		OwnerID:        owner,
		Image:          data,
		ContentType:    contentType,
		CropType:       middleware.SanitizeString(req.FormValue("cropType"), 100),
		Location:       middleware.SanitizeString(req.FormValue("location"), 200),
		Notes:          middleware.SanitizeString(req.FormValue("notes"), 1000),
		PhotoTimestamp: middleware.SanitizeString(req.FormValue("photoTimestamp"), 64),
	})
	if err != nil {
		return err
	}

	middleware.AnalysesSubmitted.Inc()
	for _, d := range res.Record.Result.Detections {
		middleware.DetectionsFound.WithLabelValues(d.PestType).Inc()
	}
	return ok(w, "Análisis completado exitosamente", res)
}

// GET /api/pest-analysis/history?page=&limit=&hasPest=
func (r *Router) handleHistory(w http.ResponseWriter, req *http.Request) error {
	q := req.URL.Query()
	page, limit, err := middleware.ParsePagination(q.Get("page"), q.Get("limit"))
	if err != nil {
		return badRequest(err.Error())
	}
	hasPest, err := middleware.ParseHasPest(q.Get("hasPest"))
	if err != nil {
		return badRequest(err.Error())
	}

	res, err := r.history.GetHistory(req.Context(), history.HistoryQuery{
		OwnerID: middleware.OwnerFromContext(req.Context()),
		Page:    page,
		Limit:   limit,
		HasPest: hasPest,
	})
	if err != nil {
		return err
	}
	return ok(w, "Historial obtenido exitosamente", res)
}

// GET /api/pest-analysis/stats
func (r *Router) handleStats(w http.ResponseWriter, req *http.Request) error {
	st, err := r.history.Stats(req.Context(), middleware.OwnerFromContext(req.Context()))
	if err != nil {
		return err
	}
	return ok(w, "Estadísticas obtenidas exitosamente", st)
}

// DELETE /api/pest-analysis/{analysisId}
func (r *Router) handleDelete(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "analysisId")
	if err := middleware.ValidateAnalysisID(id); err != nil {
		return analysis.ErrNotFound
	}
	if err := r.history.Delete(req.Context(), analysis.ID(id), middleware.OwnerFromContext(req.Context())); err != nil {
		return err
	}
	middleware.AnalysesDeleted.WithLabelValues("user").Inc()
	return ok(w, "Análisis eliminado exitosamente", nil)
}

// DELETE /api/pest-analysis/cleanup/old-analyses
func (r *Router) handleCleanup(w http.ResponseWriter, req *http.Request) error {
	start := time.Now()
	owner := middleware.OwnerFromContext(req.Context())
	n, err := r.history.CleanupSuspicious(req.Context(), owner)
	if err != nil {
		return err
	}
	middleware.AnalysesDeleted.WithLabelValues("cleanup").Add(float64(n))
	r.log.Info("cleanup finished", "owner", owner, "deleted", n, "duration", time.Since(start))
	writeJSON(w, http.StatusOK, envelope{
		Success:      true,
		Message:      fmt.Sprintf("Se eliminaron %d análisis antiguos con fechas incorrectas", n),
		DeletedCount: &n,
	})
	return nil
}

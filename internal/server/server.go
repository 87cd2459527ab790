// Package server exposes the recommendation service over HTTP.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/crop-advisor/internal/model"
	"github.com/sells-group/crop-advisor/internal/ranker"
	"github.com/sells-group/crop-advisor/internal/recommend"
)

// maxBodyBytes caps request payloads.
const maxBodyBytes = 1 << 20

// Recommender is the serving capability the router needs.
type Recommender interface {
	Recommend(ctx context.Context, req recommend.Request) (*recommend.Response, error)
	Ready(ctx context.Context) error
}

// Options tunes the router middleware. Zero values disable the feature.
type Options struct {
	RequestTimeout time.Duration
	RateLimit      float64
	RateBurst      int
	CORSOrigins    []string
}

// New builds the router.
func New(svc Recommender, opts Options) http.Handler {
	h := &handler{svc: svc, log: zap.L().With(zap.String("component", "server"))}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.accessLog)
	r.Use(middleware.Recoverer)
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst < 1 {
			burst = 1
		}
		r.Use(limit(rate.NewLimiter(rate.Limit(opts.RateLimit), burst)))
	}
	if opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(opts.RequestTimeout))
	}

	r.Get("/health", h.health)
	r.Post("/recommend", h.recommend)
	return r
}

type handler struct {
	svc Recommender
	log *zap.Logger
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Ready(r.Context()); err != nil {
		h.log.Warn("server: model not ready", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"success": false, "message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "ready"})
}

func (h *handler) recommend(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRequest(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.svc.Recommend(r.Context(), req)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.log.Error("server: recommend failed", zap.Error(err),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// payload accepts numbers or numeric strings for every integer field.
type payload struct {
	LocationID json.RawMessage `json:"location_id"`
	Season     *string         `json:"season"`
	Year       json.RawMessage `json:"year"`
	TopK       json.RawMessage `json:"top_k"`
}

func decodeRequest(body io.Reader) (recommend.Request, error) {
	var p payload
	if err := json.NewDecoder(body).Decode(&p); err != nil {
		return recommend.Request{}, errors.New("invalid or missing JSON payload")
	}
	if len(p.LocationID) == 0 || p.Season == nil || len(p.Year) == 0 {
		return recommend.Request{}, errors.New("location_id, season and year are required")
	}
	loc, ok := intValue(p.LocationID)
	if !ok {
		return recommend.Request{}, errors.New("location_id must be an integer")
	}
	year, ok := intValue(p.Year)
	if !ok {
		return recommend.Request{}, errors.New("year must be an integer")
	}

	topK := ranker.DefaultTopK
	if len(p.TopK) > 0 {
		if k, ok := intValue(p.TopK); ok {
			topK = k
			if topK < ranker.MinTopK {
				topK = ranker.MinTopK
			}
		}
	}
	return recommend.Request{LocationID: loc, Season: *p.Season, Year: year, TopK: topK}, nil
}

// intValue reads an integral JSON number or a string holding one.
func intValue(raw json.RawMessage) (int, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		raw = []byte(strings.TrimSpace(s))
	}
	if n, err := strconv.Atoi(string(raw)); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidSeason),
		errors.Is(err, model.ErrInvalidTopK),
		errors.Is(err, model.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrEmptyGroup), errors.Is(err, model.ErrEmptyInput):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("server: write response", zap.Error(err))
	}
}

func limit(l *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow() {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (h *handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

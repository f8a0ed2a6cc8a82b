package control

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/dgnsrekt/dex_autotag/internal/tagger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Run is the part of the driver the API reads.
type Run interface {
	Status() tagger.Status
}

// Resumer releases the manual login gate.
type Resumer interface {
	Release() bool
}

type healthOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

type statusOutput struct {
	Body tagger.Status
}

type resumeOutput struct {
	Body struct {
		Released bool `json:"released" doc:"True only for the call that opened the gate."`
	}
}

// NewServer builds the operator API: health, run status and resume.
func NewServer(run Run, gate Resumer) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("Dex Auto-tag Control API", "1.0.0")
	api := humachi.New(router, cfg)

	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "get-run", Method: http.MethodGet, Path: "/api/v1/run", Summary: "Current run status", Tags: []string{"Run"}},
		func(ctx context.Context, input *struct{}) (*statusOutput, error) {
			return &statusOutput{Body: run.Status()}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "resume-run", Method: http.MethodPost, Path: "/api/v1/run/resume", Summary: "Confirm manual login and start tagging", Tags: []string{"Run"}},
		func(ctx context.Context, input *struct{}) (*resumeOutput, error) {
			out := &resumeOutput{}
			out.Body.Released = gate.Release()
			if out.Body.Released {
				slog.Info("manual login confirmed over http")
			}
			return out, nil
		})

	return router
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

package web

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"site/internal/asyncdata"
	"site/internal/pages"
)

const defaultCacheControlPolicy = "public, max-age=3600, s-maxage=3600"
const noStorePolicy = "no-store"
const defaultHealthPath = "/healthz"
const defaultHealthBody = "ok"

// PageSource is the page fetcher as seen by the HTTP layer.
type PageSource interface {
	FetchPage(ctx context.Context, url string, opts ...asyncdata.Option) (asyncdata.Result[*pages.Page], error)
	Peek(url string) (asyncdata.Snapshot[*pages.Page], bool)
	Watch(url string) (<-chan asyncdata.Snapshot[*pages.Page], func())
}

type CachePolicies struct {
	Page   string
	Live   string
	Health string
	Error  string
}

func DefaultCachePolicies() CachePolicies {
	return CachePolicies{
		Page:   defaultCacheControlPolicy,
		Live:   "no-cache",
		Health: noStorePolicy,
		Error:  noStorePolicy,
	}
}

type Config struct {
	Pages  PageSource
	Logger *zap.Logger

	CachePolicies CachePolicies

	HealthPath string
	HealthBody string
}

type server struct {
	pages         PageSource
	logger        *zap.Logger
	cachePolicies CachePolicies
	healthBody    string
}

func New(cfg Config) (http.Handler, error) {
	if cfg.Pages == nil {
		return nil, errors.New("page source is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	healthBody := strings.TrimSpace(cfg.HealthBody)
	if healthBody == "" {
		healthBody = defaultHealthBody
	}

	srv := &server{
		pages:         cfg.Pages,
		logger:        logger,
		cachePolicies: withDefaultPolicies(cfg.CachePolicies),
		healthBody:    healthBody,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get(normalizeHealthPath(cfg.HealthPath), srv.handleHealth)
	r.Route("/api/page", func(r chi.Router) {
		r.Get("/", srv.handlePage)
		r.Post("/refresh", srv.handleRefresh)
		r.Get("/live", srv.handleLive)
	})
	r.NotFound(srv.handleNotFound)

	return r, nil
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	setCachePolicy(w, s.cachePolicies.Health)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(s.healthBody))
}

func (s *server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	setCachePolicy(w, s.cachePolicies.Error)
	http.NotFound(w, r)
}

func (s *server) handleBadRequest(w http.ResponseWriter, message string) {
	setCachePolicy(w, s.cachePolicies.Error)
	http.Error(w, message, http.StatusBadRequest)
}

func (s *server) handleServerError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		s.logger.Debug("client went away", zap.String("path", r.URL.Path))
		return
	}

	setCachePolicy(w, s.cachePolicies.Error)
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	s.logger.Error("server error",
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err),
	)
}

func normalizeHealthPath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return defaultHealthPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

func withDefaultPolicies(policies CachePolicies) CachePolicies {
	defaults := DefaultCachePolicies()
	if strings.TrimSpace(policies.Page) == "" {
		policies.Page = defaults.Page
	}
	if strings.TrimSpace(policies.Live) == "" {
		policies.Live = defaults.Live
	}
	if strings.TrimSpace(policies.Health) == "" {
		policies.Health = defaults.Health
	}
	if strings.TrimSpace(policies.Error) == "" {
		policies.Error = defaults.Error
	}
	return policies
}

func setCachePolicy(w http.ResponseWriter, policy string) {
	policy = strings.TrimSpace(policy)
	if policy == "" {
		return
	}
	w.Header().Set("Cache-Control", policy)
}

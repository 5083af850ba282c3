// Package httpapi serves recommendations, event hydration, interaction
// logging and model operations over HTTP with JSend envelopes.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/rusma07/event-recommender-system/internal/catalog"
	"github.com/rusma07/event-recommender-system/internal/cluster"
	"github.com/rusma07/event-recommender-system/internal/db"
	"github.com/rusma07/event-recommender-system/internal/jobs"
	"github.com/rusma07/event-recommender-system/internal/recommend"
	"github.com/rusma07/event-recommender-system/internal/simmodel"
)

const (
	maxHydrateIDs       = 200
	maxInteractionBytes = 64 << 10
	maxEventBytes       = 64 << 10
	recentBuildsLimit   = 5
)

// Store is the slice of the database the API needs.
type Store interface {
	GetEventsByIDs(ctx context.Context, ids []int64) ([]catalog.Event, error)
	ListEventsByTags(ctx context.Context, tags []string, limit int) ([]catalog.Event, error)
	UpsertEvents(ctx context.Context, events []catalog.Event) (int64, error)
	UpdateEvent(ctx context.Context, ev catalog.Event) (bool, error)
	DeleteEvent(ctx context.Context, eventID int64) (bool, error)
	UserTagClickTags(ctx context.Context, userID int64) ([]string, error)
	RecordInteraction(ctx context.Context, in catalog.Interaction) (db.RecordResult, error)
	HasTagClick(ctx context.Context, userID int64) (bool, error)
	ListModelBuilds(ctx context.Context, limit int) ([]db.ModelBuildRow, error)
	Ping(ctx context.Context) error
}

type CacheInvalidator interface {
	Invalidate(ctx context.Context, userID int64)
	CatalogChanged(ctx context.Context)
}

type ModelRebuilder interface {
	Trigger()
	RunNow(ctx context.Context, trigger string) (jobs.Status, error)
	Status() jobs.Status
}

type BreakerReporter interface {
	BreakerStates() map[string]string
}

// Deps are the collaborators of the server. Invalidator, Rebuilder and
// Breakers may be nil.
type Deps struct {
	Store       Store
	Recommender recommend.Recommender
	Models      recommend.ModelSource
	Assigner    *cluster.Assigner
	Invalidator CacheInvalidator
	Rebuilder   ModelRebuilder
	Breakers    BreakerReporter
}

type noModel struct{}

func (noModel) Current() *simmodel.Model { return nil }

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// RebuildTimeout bounds a synchronous rebuild started with ?wait=true.
	RebuildTimeout time.Duration

	// Defaults fills the recommendation parameters a request leaves out.
	Defaults       recommend.Request
	MaxTopK        int
	AllowedOrigins []string
}

type Server struct {
	deps   Deps
	logger zerolog.Logger
	opts   Options
}

func NewServer(deps Deps, logger zerolog.Logger, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := opts.Port
	if port <= 0 {
		port = 8090
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	rebuildTimeout := opts.RebuildTimeout
	if rebuildTimeout <= 0 {
		rebuildTimeout = 5 * time.Minute
	}
	defaults := opts.Defaults
	if defaults.TopK <= 0 {
		defaults = recommend.DefaultRequest(0)
	}
	maxTopK := opts.MaxTopK
	if maxTopK <= 0 {
		maxTopK = 100
	}
	if deps.Assigner == nil {
		deps.Assigner = cluster.NewAssigner(nil)
	}
	if deps.Models == nil {
		deps.Models = noModel{}
	}

	return &Server{
		deps:   deps,
		logger: logger.With().Str("component", "http").Logger(),
		opts: Options{
			Host:            host,
			Port:            port,
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
			RebuildTimeout:  rebuildTimeout,
			Defaults:        defaults,
			MaxTopK:         maxTopK,
			AllowedOrigins:  opts.AllowedOrigins,
		},
	}
}

func (s *Server) String() string {
	return "http-server"
}

// Serve lets a supervisor run the server; it returns when ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	return s.Start(ctx)
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.deps.Store == nil || s.deps.Recommender == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := s.routes()

	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("eventrec web server started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("eventrec web server stopped")
	return nil
}

func (s *Server) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	allowOrigins := s.opts.AllowedOrigins
	if len(allowOrigins) == 0 {
		allowOrigins = []string{"*"}
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: allowOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       3600,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Str("remote_ip", v.RemoteIP).
					Str("request_id", v.RequestID).
					Msg("http request failed")
				return nil
			}

			s.logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.GET("/events", s.handleEvents)
	api.GET("/events/by-tags", s.handleEventsByTags)
	api.POST("/events", s.handleCreateEvent)
	api.PUT("/events/:event_id", s.handleUpdateEvent)
	api.DELETE("/events/:event_id", s.handleDeleteEvent)
	api.POST("/interactions", s.handleRecordInteraction)
	api.GET("/users/:user_id/recommendations", s.handleRecommendations)
	api.GET("/users/:user_id/onboarding-status", s.handleOnboardingStatus)
	api.GET("/users/:user_id/tag-events", s.handleUserTagEvents)
	api.GET("/model/status", s.handleModelStatus)
	api.POST("/model/rebuild", s.handleModelRebuild)

	return e
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	if he, ok := err.(*echo.HTTPError); ok {
		status = he.Code
		switch v := he.Message.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				message = v
			}
		default:
			if text := strings.TrimSpace(http.StatusText(status)); text != "" {
				message = text
			}
		}
	} else if err != nil {
		message = err.Error()
	}

	isAPI := strings.HasPrefix(c.Request().URL.Path, "/api/")
	if isAPI {
		if status >= 500 {
			_ = internalError(c, "Internal server error")
			return
		}
		_ = fail(c, status, message, nil)
		return
	}

	_ = c.String(status, message)
}

func parseEventIDParam(raw string) (int64, error) {
	return parseUserID(raw)
}

func parseUserID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("must be a positive integer")
	}
	return id, nil
}

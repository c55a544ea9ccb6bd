package main

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/cachegate/pkg/engine"
	"github.com/Sternrassler/cachegate/pkg/lifecycle"
	"github.com/Sternrassler/cachegate/pkg/metrics"
)

// adminPrefix namespaces the management routes so they never shadow origin
// paths.
const adminPrefix = "/_cachegate"

type server struct {
	echo   *echo.Echo
	engine *engine.Engine
	logger zerolog.Logger
}

func newServer(eng *engine.Engine, origin *url.URL, logger zerolog.Logger) *server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &server{echo: e, engine: eng, logger: logger}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Debug().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Str("outcome", c.Response().Header().Get("X-Cachegate")).
				Dur("latency", v.Latency).
				Msg("Request")
			return nil
		},
	}))

	admin := e.Group(adminPrefix)
	admin.GET("/health", s.health)
	admin.GET("/ready", s.ready)
	admin.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	admin.GET("/connectivity", s.connectivity)
	admin.POST("/connectivity", s.connectivityRestored)
	admin.POST("/deploy", s.deploy)
	admin.GET("/queue", s.queue)

	e.Any("/*", echo.WrapHandler(eng.Proxy(origin)))
	return s
}

func (s *server) Start(addr string) error {
	return s.echo.Start(addr)
}

func (s *server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.engine.Version(),
	})
}

func (s *server) ready(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	if err := s.engine.Ready(ctx); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
}

type connectivityResponse struct {
	Online              bool      `json:"online"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	LastChange          time.Time `json:"lastChange"`
	Queued              int       `json:"queued"`
}

func (s *server) connectivityState() connectivityResponse {
	st := s.engine.Connectivity()
	return connectivityResponse{
		Online:              st.Online,
		ConsecutiveFailures: st.ConsecutiveFailures,
		LastChange:          st.LastChange,
		Queued:              s.engine.Queue().Len(),
	}
}

func (s *server) connectivity(c echo.Context) error {
	return c.JSON(http.StatusOK, s.connectivityState())
}

// connectivityRestored lets the host report that the network is back.
func (s *server) connectivityRestored(c echo.Context) error {
	s.engine.NotifyConnectivityRestored()
	return c.JSON(http.StatusAccepted, s.connectivityState())
}

type deployRequest struct {
	Version string `json:"version"`
}

type deployResponse struct {
	Previous       string   `json:"previous"`
	Version        string   `json:"version"`
	Direction      string   `json:"direction"`
	Removed        []string `json:"removed"`
	Precached      int      `json:"precached"`
	PrecacheFailed []string `json:"precacheFailed,omitempty"`
}

func newDeployResponse(r lifecycle.Report) deployResponse {
	resp := deployResponse{
		Previous:  r.Previous,
		Version:   r.Version,
		Direction: string(r.Direction),
		Removed:   r.Removed,
		Precached: r.Precache.Fetched,
	}
	for u := range r.Precache.Failed {
		resp.PrecacheFailed = append(resp.PrecacheFailed, u)
	}
	return resp
}

func (s *server) deploy(c echo.Context) error {
	var req deployRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	report, err := s.engine.OnDeploy(c.Request().Context(), req.Version)
	if err != nil {
		s.logger.Error().Err(err).Str("version", req.Version).Msg("Deploy failed")
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, newDeployResponse(report))
}

type queueItem struct {
	ID         string    `json:"id"`
	Method     string    `json:"method"`
	URL        string    `json:"url"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
	Attempts   int       `json:"attempts"`
	BodyBytes  int       `json:"bodyBytes"`
}

func (s *server) queue(c echo.Context) error {
	items := s.engine.Queue().Items()
	out := make([]queueItem, 0, len(items))
	for _, it := range items {
		out = append(out, queueItem{
			ID:         it.ID,
			Method:     it.Method,
			URL:        it.URL,
			EnqueuedAt: it.EnqueuedAt,
			Attempts:   it.Attempts,
			BodyBytes:  len(it.Body),
		})
	}
	return c.JSON(http.StatusOK, out)
}

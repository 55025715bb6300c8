// Package server exposes the marketplace over HTTP: read endpoints backed
// by the query service and admin endpoints that feed commands into the
// settlement engine. Admin submissions are asynchronous: the server enqueues
// the command and returns 202 with the idempotency key; outcomes are read
// back via the settlement endpoint.
package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/rs/zerolog"

	"TicketLedger/internal/command"
	"TicketLedger/internal/observability"
	"TicketLedger/internal/query"
)

const defaultPageLimit = 50

type Server struct {
	echo     *echo.Echo
	httpSrv  *http.Server
	query    *query.Service
	commands chan<- command.Command
	health   *observability.HealthChecker
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

func NewServer(
	qs *query.Service,
	commands chan<- command.Command,
	health *observability.HealthChecker,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Server {
	s := &Server{
		echo:     echo.New(),
		query:    qs,
		commands: commands,
		health:   health,
		metrics:  metrics,
		logger:   logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	e := s.echo

	e.GET("/healthz", func(c echo.Context) error {
		s.health.LivenessHandler(c.Response(), c.Request())
		return nil
	})
	e.GET("/readyz", func(c echo.Context) error {
		s.health.ReadinessHandler(c.Response(), c.Request())
		return nil
	})

	e.GET("/v1/balances/:account", s.getBalance)
	e.GET("/v1/accounts/:account/journal", s.getJournalHistory)
	e.GET("/v1/events", s.listEvents)
	e.GET("/v1/events/:eventID", s.getEvent)
	e.GET("/v1/drops/:dropID/listings", s.getListings)
	e.GET("/v1/settlements/:ref", s.getSettlement)

	e.POST("/v1/admin/events", s.createEvent)
	e.POST("/v1/admin/events/:eventID/tiers", s.addTiers)
	e.PUT("/v1/admin/events/:eventID/prices", s.modifyTierPrices)
	e.PUT("/v1/admin/events/:eventID/max-keys", s.modifyMaxKeys)
	e.PUT("/v1/admin/events/:eventID/status", s.setEventStatus)
	e.PUT("/v1/admin/events/:eventID/resales", s.setResaleStatus)
	e.DELETE("/v1/admin/events/:eventID", s.deleteEvent)
	e.POST("/v1/admin/freeze", s.setFreeze)
	e.POST("/v1/admin/config", s.updateConfig)
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.echo,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	s.logger.Info().Str("addr", addr).Msg("http server listening")
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// ==========================================================================
// Read endpoints
// ==========================================================================

func (s *Server) getBalance(c echo.Context) error {
	start := time.Now()
	defer s.observeQuery("get_balance", start)

	account := c.PathParam("account")
	if account == "" {
		return s.badRequest(c, "get_balance", "account is required")
	}

	resp, err := s.query.GetBalance(c.Request().Context(), account)
	if err != nil {
		return s.queryError(c, "get_balance", err)
	}
	s.metrics.QueryRequests.WithLabelValues("get_balance", "ok").Inc()
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) getJournalHistory(c echo.Context) error {
	start := time.Now()
	defer s.observeQuery("get_journal", start)

	account := c.PathParam("account")
	limit := parseLimit(c.QueryParam("limit"))

	var afterSeq *int64
	if raw := c.QueryParam("after"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return s.badRequest(c, "get_journal", "after must be an integer")
		}
		afterSeq = &v
	}

	entries, err := s.query.GetJournalHistory(c.Request().Context(), account, limit, afterSeq)
	if err != nil {
		return s.queryError(c, "get_journal", err)
	}
	s.metrics.QueryRequests.WithLabelValues("get_journal", "ok").Inc()
	return c.JSON(http.StatusOK, map[string]interface{}{"entries": entries})
}

func (s *Server) listEvents(c echo.Context) error {
	start := time.Now()
	defer s.observeQuery("list_events", start)

	limit := parseLimit(c.QueryParam("limit"))
	var organizer *string
	if raw := c.QueryParam("organizer"); raw != "" {
		organizer = &raw
	}

	events, err := s.query.ListEvents(c.Request().Context(), limit, organizer)
	if err != nil {
		return s.queryError(c, "list_events", err)
	}
	s.metrics.QueryRequests.WithLabelValues("list_events", "ok").Inc()
	return c.JSON(http.StatusOK, map[string]interface{}{"events": events})
}

func (s *Server) getEvent(c echo.Context) error {
	start := time.Now()
	defer s.observeQuery("get_event", start)

	resp, err := s.query.GetEvent(c.Request().Context(), c.PathParam("eventID"))
	if err != nil {
		return s.queryError(c, "get_event", err)
	}
	s.metrics.QueryRequests.WithLabelValues("get_event", "ok").Inc()
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) getListings(c echo.Context) error {
	start := time.Now()
	defer s.observeQuery("get_listings", start)

	listings, err := s.query.GetListings(c.Request().Context(), c.PathParam("dropID"))
	if err != nil {
		return s.queryError(c, "get_listings", err)
	}
	s.metrics.QueryRequests.WithLabelValues("get_listings", "ok").Inc()
	return c.JSON(http.StatusOK, map[string]interface{}{"listings": listings})
}

func (s *Server) getSettlement(c echo.Context) error {
	start := time.Now()
	defer s.observeQuery("get_settlement", start)

	resp, err := s.query.GetSettlement(c.Request().Context(), c.PathParam("ref"))
	if err != nil {
		return s.queryError(c, "get_settlement", err)
	}
	s.metrics.QueryRequests.WithLabelValues("get_settlement", "ok").Inc()
	return c.JSON(http.StatusOK, resp)
}

// ==========================================================================
// helpers
// ==========================================================================

func (s *Server) observeQuery(endpoint string, start time.Time) {
	s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

func (s *Server) badRequest(c echo.Context, endpoint string, msg string) error {
	s.metrics.QueryRequests.WithLabelValues(endpoint, "bad_request").Inc()
	return c.JSON(http.StatusBadRequest, map[string]string{"error": msg})
}

func (s *Server) queryError(c echo.Context, endpoint string, err error) error {
	if err == query.ErrNotFound {
		s.metrics.QueryRequests.WithLabelValues(endpoint, "not_found").Inc()
		return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
	}
	s.logger.Error().Err(err).Str("endpoint", endpoint).Msg("query failed")
	s.metrics.QueryRequests.WithLabelValues(endpoint, "error").Inc()
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func parseLimit(raw string) int {
	if raw == "" {
		return defaultPageLimit
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 || v > 500 {
		return defaultPageLimit
	}
	return v
}

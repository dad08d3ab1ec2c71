package httpserver

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sudarshansudarshan/cal-sub001/internal/app"
	apperrors "github.com/sudarshansudarshan/cal-sub001/internal/platform/errors"
)

func (s *Server) registerEvidenceRoutes(api *echo.Group) {
	api.GET("/evidence", s.handleListEvidence)
	api.DELETE("/evidence/:id", s.handleDeleteEvidence)
	api.DELETE("/evidence", s.handleClearEvidence)
}

func (s *Server) handleListEvidence(c echo.Context) error {
	filter := app.EvidenceFilter{Type: c.QueryParam("type")}
	if raw := c.QueryParam("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return apperrors.ValidationError("since must be an RFC 3339 timestamp").WithField("since", raw)
		}
		filter.Since = since
	}

	snaps, err := s.app.ListEvidence(c.Request().Context(), filter)
	if errors.Is(err, app.ErrUnknownAnomalyType) {
		return apperrors.ValidationError("unknown anomaly type").WithField("type", filter.Type)
	}
	if err != nil {
		return apperrors.InternalError("failed to list evidence", err)
	}

	if err := c.JSON(http.StatusOK, snaps); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleDeleteEvidence(c echo.Context) error {
	raw := c.Param("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return apperrors.ValidationError("invalid evidence id").WithField("id", raw)
	}

	if err := s.app.DeleteEvidence(c.Request().Context(), id); err != nil {
		return apperrors.InternalError("failed to delete evidence", err).WithField("id", id)
	}

	if err := c.JSON(http.StatusOK, map[string]string{"status": "ok"}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleClearEvidence(c echo.Context) error {
	if err := s.app.ClearEvidence(c.Request().Context()); err != nil {
		return apperrors.InternalError("failed to clear evidence", err)
	}

	if err := c.JSON(http.StatusOK, map[string]string{"status": "ok"}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

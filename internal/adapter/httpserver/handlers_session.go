package httpserver

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/sudarshansudarshan/cal-sub001/internal/domain"
	"github.com/sudarshansudarshan/cal-sub001/internal/permission"
	apperrors "github.com/sudarshansudarshan/cal-sub001/internal/platform/errors"
)

const maxCandidateIDLength = 128

type startSessionRequest struct {
	CandidateID string `json:"candidateId"`
}

func (s *Server) registerSessionRoutes(api *echo.Group) {
	api.POST("/session", s.handleStartSession)
	api.DELETE("/session", s.handleStopSession)
	api.GET("/session", s.handleSessionStatus)
	api.GET("/permissions", s.handlePermissions)
}

func (s *Server) handleStartSession(c echo.Context) error {
	ctx := c.Request().Context()

	var req startSessionRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	req.CandidateID = strings.TrimSpace(req.CandidateID)
	if req.CandidateID == "" {
		return apperrors.ValidationError("candidateId is required")
	}
	if len(req.CandidateID) > maxCandidateIDLength {
		return apperrors.ValidationError("candidateId is too long").WithField("max_length", maxCandidateIDLength)
	}

	info, err := s.app.StartSession(ctx, req.CandidateID)
	if err != nil {
		return startSessionError(err).WithField("candidate_id", req.CandidateID)
	}

	if err := c.JSON(http.StatusCreated, info); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func startSessionError(err error) *apperrors.Error {
	var blocked *permission.BlockedError
	switch {
	case errors.Is(err, domain.ErrSessionRunning):
		return apperrors.ConflictError("a session is already running", err)
	case errors.As(err, &blocked):
		return apperrors.BlockedError("device permission required", err).
			WithField("kind", string(blocked.Kind)).
			WithField("permission", blocked.Status.String())
	case errors.Is(err, domain.ErrBlocked):
		return apperrors.BlockedError("device permission required", err)
	case errors.Is(err, domain.ErrStartCancelled):
		return apperrors.ConflictError("session was stopped while starting", err)
	case errors.Is(err, domain.ErrDeviceUnavailable):
		return apperrors.UnavailableError("capture device unavailable", err)
	default:
		return apperrors.InternalError("failed to start session", err)
	}
}

func (s *Server) handleStopSession(c echo.Context) error {
	err := s.app.StopSession(c.Request().Context())
	if errors.Is(err, domain.ErrSessionNotRunning) {
		return apperrors.ConflictError("no session is running", err)
	}
	if err != nil {
		return apperrors.InternalError("failed to stop session", err)
	}

	if err := c.JSON(http.StatusOK, map[string]string{"status": "stopped"}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleSessionStatus(c echo.Context) error {
	if err := c.JSON(http.StatusOK, s.app.Status()); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handlePermissions(c echo.Context) error {
	if err := c.JSON(http.StatusOK, s.app.Permissions(c.Request().Context())); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

package httpserver

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudarshansudarshan/cal-sub001/internal/adapter/capture"
	"github.com/sudarshansudarshan/cal-sub001/internal/domain"
	apperrors "github.com/sudarshansudarshan/cal-sub001/internal/platform/errors"
)

const maxSceneFaces = 8

// Scene routes only exist when the daemon runs on the synthetic camera.
func (s *Server) registerSceneRoutes(api *echo.Group) {
	api.GET("/scene", s.handleGetScene)
	api.PUT("/scene", s.handlePutScene)
	api.POST("/scene/end/:kind", s.handleEndTrack)
}

func (s *Server) handleGetScene(c echo.Context) error {
	if err := c.JSON(http.StatusOK, s.scene.Scene()); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handlePutScene(c echo.Context) error {
	var scene capture.Scene
	if err := c.Bind(&scene); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if scene.Faces < 0 || scene.Faces > maxSceneFaces {
		return apperrors.ValidationError("faces out of range").WithField("max", maxSceneFaces)
	}

	s.scene.SetScene(scene)
	if err := c.JSON(http.StatusOK, scene); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

// handleEndTrack terminates the live stream of a kind, as if the user
// stopped sharing or unplugged the device.
func (s *Server) handleEndTrack(c echo.Context) error {
	kind := domain.MediaKind(c.Param("kind"))
	switch kind {
	case domain.MediaCamera, domain.MediaScreen:
	default:
		return apperrors.ValidationError("kind must be camera or screen").WithField("kind", string(kind))
	}

	s.scene.End(kind)
	if err := c.JSON(http.StatusOK, map[string]string{"status": "ended"}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

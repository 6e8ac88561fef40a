package httpserver

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

func (s *Server) handleStatus(c echo.Context) error {
	status := s.opts.Status.Status()

	response := map[string]any{
		"status": status,
	}
	if !status.StartedAt.IsZero() {
		response["uptime"] = time.Since(status.StartedAt).Seconds()
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write status response: %w", err)
	}
	return nil
}

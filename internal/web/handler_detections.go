package web

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

const maxListLimit = 200

func (s *Server) handleListDetections(c echo.Context) error {
	if s.detections == nil {
		return requestError{
			Status:  http.StatusNotFound,
			Message: "detection audit log is disabled",
			Type:    errTypeNotFound,
		}
	}

	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxListLimit {
			return requestError{
				Status:  http.StatusBadRequest,
				Message: "limit must be an integer between 1 and 200",
				Type:    errTypeInvalidRequest,
			}
		}
		limit = n
	}

	chatID := c.Param("chatId")
	detections, err := s.detections.ListByChatID(c.Request().Context(), chatID, limit)
	if err != nil {
		s.logger.Error("failed to list detections", "chat_id", chatID, "error", err)
		return requestError{
			Status:  http.StatusInternalServerError,
			Message: "failed to list detections",
			Type:    errTypeServer,
		}
	}
	return c.JSON(http.StatusOK, map[string]any{"detections": detections})
}

package web

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/vbonduro/detectchat/internal/datastream"
	"github.com/vbonduro/detectchat/internal/service"
)

// chatRequest is the body the chat UI posts. Only data.images[0] and
// data.filenames[0] drive detection; messages are accepted and ignored.
type chatRequest struct {
	Messages      []chatMessage `json:"messages"`
	SelectedModel string        `json:"selectedModel"`
	Data          *chatData     `json:"data"`
}

type chatMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type chatData struct {
	Images    []string `json:"images"`
	ChatID    string   `json:"chatId"`
	Filenames []string `json:"filenames"`
}

func (s *Server) handleChat(c echo.Context) error {
	var req chatRequest
	if err := decodeRequestBody(c, &req, s.maxBodyBytes); err != nil {
		return err
	}

	chatReq := service.ChatRequest{SelectedModel: req.SelectedModel}
	if req.Data != nil {
		chatReq.ChatID = req.Data.ChatID
		chatReq.Images = req.Data.Images
		chatReq.Filenames = req.Data.Filenames
	}

	reply := s.service.Respond(c.Request().Context(), chatReq)

	res := c.Response()
	datastream.SetHeaders(res.Header())
	res.WriteHeader(http.StatusOK)
	if err := datastream.Write(res, reply.Message, datastream.FinishStop); err != nil {
		s.logger.Warn("failed to write chat stream", "chat_id", chatReq.ChatID, "error", err)
		return err
	}
	return nil
}

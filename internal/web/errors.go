package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
)

const (
	errTypeInvalidRequest = "invalid_request_error"
	errTypeNotFound       = "not_found_error"
	errTypeServer         = "server_error"
)

type requestError struct {
	Status  int
	Message string
	Type    string
}

func (e requestError) Error() string {
	return e.Message
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func writeError(c echo.Context, status int, message, errType string) error {
	var payload errorBody
	payload.Error.Message = message
	payload.Error.Type = errType
	return c.JSON(status, payload)
}

func jsonErrorHandler(err error, c echo.Context) {
	// A stream that already started cannot be turned into an error response.
	if c.Response().Committed {
		return
	}

	var reqErr requestError
	if errors.As(err, &reqErr) {
		_ = writeError(c, reqErr.Status, reqErr.Message, reqErr.Type)
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		errType := errTypeInvalidRequest
		if he.Code == http.StatusNotFound {
			errType = errTypeNotFound
		}
		_ = writeError(c, he.Code, fmt.Sprint(he.Message), errType)
		return
	}

	_ = writeError(c, http.StatusInternalServerError, "internal server error", errTypeServer)
}

// decodeRequestBody reads exactly one JSON value from the request body,
// bounded by maxBytes.
func decodeRequestBody[T any](c echo.Context, target *T, maxBytes int64) error {
	req := c.Request()
	defer req.Body.Close()

	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBytes)

	decoder := json.NewDecoder(req.Body)
	if err := decoder.Decode(target); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return requestError{
				Status:  http.StatusRequestEntityTooLarge,
				Message: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
				Type:    errTypeInvalidRequest,
			}
		case errors.Is(err, io.EOF):
			return requestError{
				Status:  http.StatusBadRequest,
				Message: "request body is required",
				Type:    errTypeInvalidRequest,
			}
		default:
			return requestError{
				Status:  http.StatusBadRequest,
				Message: fmt.Sprintf("invalid JSON payload: %v", err),
				Type:    errTypeInvalidRequest,
			}
		}
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "request body must contain a single JSON object",
			Type:    errTypeInvalidRequest,
		}
	}
	return nil
}

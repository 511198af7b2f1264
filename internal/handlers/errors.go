package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"uk.co.dudmesh.helpline/internal/blob"
	"uk.co.dudmesh.helpline/internal/model"
	"uk.co.dudmesh.helpline/internal/pipeline"
)

var statusCodes = []struct {
	err  error
	code int
}{
	{model.ErrorInvalidUsernameOrPassword, http.StatusUnauthorized},
	{model.ErrorInvalidToken, http.StatusUnauthorized},
	{model.ErrorForbidden, http.StatusForbidden},
	{blob.ErrInvalidToken, http.StatusForbidden},
	{model.ErrorUserNotFound, http.StatusNotFound},
	{model.ErrorMessageNotFound, http.StatusNotFound},
	{model.ErrorResponseNotFound, http.StatusNotFound},
	{blob.ErrBlobNotFound, http.StatusNotFound},
	{model.ErrorUserExists, http.StatusConflict},
	{model.ErrorAccountLocked, http.StatusLocked},
	{model.ErrorEmptyResponse, http.StatusBadRequest},
	{model.ErrorInvalidLocation, http.StatusBadRequest},
	{model.ErrorMissingAudio, http.StatusBadRequest},
	{model.ErrorInvalidEmail, http.StatusBadRequest},
	{model.ErrorWeakPassword, http.StatusBadRequest},
	{model.ErrorInvalidRole, http.StatusBadRequest},
	{blob.ErrInvalidKey, http.StatusBadRequest},
	{pipeline.ErrMissingAPIKey, http.StatusBadGateway},
}

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps a domain error onto an HTTP status and the message shown
// to the client. Unknown errors are 500s with a generic message.
func statusFor(err error) (int, string) {
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		if msg, ok := httpErr.Message.(string); ok {
			return httpErr.Code, msg
		}
		return httpErr.Code, http.StatusText(httpErr.Code)
	}

	var statusErr *pipeline.StatusError
	if errors.As(err, &statusErr) {
		return http.StatusBadGateway, model.ProcessingFailedMessage
	}

	for _, sc := range statusCodes {
		if errors.Is(err, sc.err) {
			return sc.code, err.Error()
		}
	}
	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
}

func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code, msg := statusFor(err)
	if code >= http.StatusInternalServerError {
		log.Errorf("request %s %s %s: %v", c.Response().Header().Get(echo.HeaderXRequestID),
			c.Request().Method, c.Request().URL.Path, err)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, &errorResponse{Error: msg})
	}
	if err != nil {
		log.Errorf("writing error response: %v", err)
	}
}

package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"uk.co.dudmesh.helpline/internal/history"
	"uk.co.dudmesh.helpline/internal/model"
	"uk.co.dudmesh.helpline/internal/service/helpline"
)

// readUpload returns the named file from a multipart form, or nil when the
// field is absent.
func readUpload(c echo.Context, field string) ([]byte, string, error) {
	header, err := c.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return nil, "", nil
		}
		return nil, "", echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
	}
	data, err := readFileHeader(header)
	if err != nil {
		return nil, "", fmt.Errorf("reading %s upload: %w", field, err)
	}
	return data, header.Header.Get(echo.HeaderContentType), nil
}

func readFileHeader(header *multipart.FileHeader) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// formLocation parses the optional latitude and longitude fields. Both must
// be present for a location to be recorded.
func formLocation(c echo.Context) (*model.Location, error) {
	latitude, longitude := c.FormValue("latitude"), c.FormValue("longitude")
	if latitude == "" || longitude == "" {
		return nil, nil
	}
	lat, err := strconv.ParseFloat(latitude, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: latitude %q", model.ErrorInvalidLocation, latitude)
	}
	lon, err := strconv.ParseFloat(longitude, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: longitude %q", model.ErrorInvalidLocation, longitude)
	}
	return &model.Location{Latitude: lat, Longitude: lon}, nil
}

// SubmitMessage stores a recording and runs it through the pipeline before
// answering. A pipeline failure still answers 201 with the failed message.
func SubmitMessage(service HelplineService) echo.HandlerFunc {
	return func(c echo.Context) error {
		audio, contentType, err := readUpload(c, "audio")
		if err != nil {
			return err
		}
		loc, err := formLocation(c)
		if err != nil {
			return err
		}

		ctx := c.Request().Context()
		message, err := service.Submit(ctx, &helpline.SubmitParams{
			UserID:      session(c).UserID,
			Audio:       audio,
			ContentType: contentType,
			Location:    loc,
		})
		if err != nil {
			return err
		}

		processed, err := service.Process(ctx, message.ID)
		if err != nil {
			log.Errorf("request %s: %v", c.Response().Header().Get(echo.HeaderXRequestID), err)
			message.Status = model.MessageStatusFailed
			message.ErrorMessage = model.ProcessingFailedMessage
			return c.JSON(http.StatusCreated, message)
		}
		return c.JSON(http.StatusCreated, processed)
	}
}

func ListMessages(service HelplineService) echo.HandlerFunc {
	return func(c echo.Context) error {
		messages, err := service.Messages(c.Request().Context(), session(c))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, messages)
	}
}

func ListResponses(service HelplineService) echo.HandlerFunc {
	return func(c echo.Context) error {
		responses, err := service.Responses(c.Request().Context(), session(c), model.MessageID(c.Param("id")))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, responses)
	}
}

func Respond(service HelplineService) echo.HandlerFunc {
	return func(c echo.Context) error {
		audio, contentType, err := readUpload(c, "audio")
		if err != nil {
			return err
		}
		response, err := service.Respond(c.Request().Context(), &helpline.RespondParams{
			MessageID:   model.MessageID(c.Param("id")),
			AgentID:     session(c).UserID,
			Text:        c.FormValue("text"),
			Audio:       audio,
			ContentType: contentType,
		})
		if err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, response)
	}
}

func MarkMessageRead(service HelplineService) echo.HandlerFunc {
	return func(c echo.Context) error {
		marked, err := service.MarkMessageRead(c.Request().Context(), session(c).UserID, model.MessageID(c.Param("id")))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, map[string]int64{"marked": marked})
	}
}

func MarkResponseRead(service HelplineService) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := service.MarkRead(c.Request().Context(), session(c).UserID, model.ResponseID(c.Param("id")))
		if err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func Unread(service HelplineService) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit := 0
		if raw := c.QueryParam("limit"); raw != "" {
			var err error
			if limit, err = strconv.Atoi(raw); err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "limit must be a number")
			}
		}
		responses, err := service.Unread(c.Request().Context(), session(c).UserID, limit)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, responses)
	}
}

func History(service HelplineService) echo.HandlerFunc {
	return func(c echo.Context) error {
		h, err := service.History(c.Request().Context(), session(c).UserID)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, history.NewOverview(h))
	}
}

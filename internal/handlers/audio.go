package handlers

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

type processAudioRequest struct {
	Base64Audio string `json:"base64Audio"`
}

// ProcessAudio proxies base64 audio to the speech pipeline and relays its
// JSON answer as is.
func ProcessAudio(processor AudioProcessor) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := &processAudioRequest{}
		if err := c.Bind(req); err != nil {
			return err
		}
		if req.Base64Audio == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "No audio data received")
		}
		raw, err := processor.ProcessBase64(c.Request().Context(), req.Base64Audio)
		if err != nil {
			return err
		}
		return c.JSONBlob(http.StatusOK, raw)
	}
}

// Blob serves stored audio. The token query parameter must match the one
// issued with the object's URL.
func Blob(blobs BlobReader) echo.HandlerFunc {
	return func(c echo.Context) error {
		r, obj, err := blobs.Open(c.Param("*"), c.QueryParam("token"))
		if err != nil {
			return err
		}
		defer r.Close()

		etag := strconv.Quote(obj.ETag)
		header := c.Response().Header()
		header.Set("ETag", etag)
		header.Set("Cache-Control", "private, max-age=31536000, immutable")
		if c.Request().Header.Get("If-None-Match") == etag {
			return c.NoContent(http.StatusNotModified)
		}
		header.Set(echo.HeaderContentLength, strconv.FormatInt(obj.Size, 10))
		return c.Stream(http.StatusOK, obj.ContentType, r)
	}
}

package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/opensandbox/codespace/internal/storage"
)

// maxFileBytes bounds a single upload.
const maxFileBytes = 32 << 20

func fileStatus(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrInvalidPath):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) readFile(c echo.Context) error {
	path := c.QueryParam("path")
	if path == "" {
		return errorJSON(c, http.StatusBadRequest, "path query parameter is required")
	}

	data, err := s.deps.Files.Read(c.Request().Context(), path)
	if err != nil {
		return errorJSON(c, fileStatus(err), err.Error())
	}
	return c.Blob(http.StatusOK, "application/octet-stream", data)
}

func (s *Server) writeFile(c echo.Context) error {
	path := c.QueryParam("path")
	if path == "" {
		return errorJSON(c, http.StatusBadRequest, "path query parameter is required")
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxFileBytes+1))
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "failed to read request body: "+err.Error())
	}
	if len(body) > maxFileBytes {
		return errorJSON(c, http.StatusRequestEntityTooLarge, "file exceeds 32 MiB")
	}

	if err := s.deps.Files.Write(c.Request().Context(), path, body); err != nil {
		return errorJSON(c, fileStatus(err), err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) deleteFile(c echo.Context) error {
	path := c.QueryParam("path")
	if path == "" {
		return errorJSON(c, http.StatusBadRequest, "path query parameter is required")
	}

	if err := s.deps.Files.Delete(c.Request().Context(), path); err != nil {
		return errorJSON(c, fileStatus(err), err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) listDir(c echo.Context) error {
	path := c.QueryParam("path")
	if path == "" {
		path = "/"
	}

	entries, err := s.deps.Files.List(c.Request().Context(), path)
	if err != nil {
		return errorJSON(c, fileStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, entries)
}

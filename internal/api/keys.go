package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/opensandbox/codespace/internal/credentials"
	"github.com/opensandbox/codespace/pkg/types"
)

func keyStatus(err error) int {
	switch {
	case errors.Is(err, credentials.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, credentials.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, credentials.ErrExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) createKey(c echo.Context) error {
	var req types.CreateKeyRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body: "+err.Error())
	}

	info, err := s.deps.Keys.Create(c.Request().Context(), req)
	if err != nil {
		return errorJSON(c, keyStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, info)
}

func (s *Server) listKeys(c echo.Context) error {
	keys, err := s.deps.Keys.List(c.Request().Context())
	if err != nil {
		return errorJSON(c, keyStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, keys)
}

func (s *Server) revokeKey(c echo.Context) error {
	if err := s.deps.Keys.Revoke(c.Request().Context(), c.Param("name")); err != nil {
		return errorJSON(c, keyStatus(err), err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/opensandbox/codespace/internal/completion"
	"github.com/opensandbox/codespace/pkg/types"
)

func (s *Server) complete(c echo.Context) error {
	var req types.CompletionRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body: "+err.Error())
	}

	out, err := s.deps.Responder.Complete(c.Request().Context(), req.Prompt, completion.Options{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if errors.Is(err, completion.ErrEmptyPrompt) {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	if err != nil {
		return errorJSON(c, http.StatusBadGateway, err.Error())
	}
	log.Printf("api: completion %s", out)

	return c.JSON(http.StatusOK, types.CompletionResponse{
		Text: out.Text,
		Usage: types.CompletionUsage{
			PromptTokens:     out.Usage.PromptTokens,
			CompletionTokens: out.Usage.CompletionTokens,
			TotalTokens:      out.Usage.TotalTokens,
		},
		Model: out.Model,
	})
}

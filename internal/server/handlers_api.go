package server

import (
	"context"
	"fmt"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/picorelay/internal/command"
	apperrors "github.com/pscheid92/picorelay/internal/errors"
	"github.com/pscheid92/picorelay/internal/platform/correlation"
)

type textRequest struct {
	Text string `json:"text"`
}

type promptRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) handleTakePhoto(c echo.Context) error {
	return s.dispatch(c, command.Request{Kind: command.KindTakePicture})
}

func (s *Server) handleAnalyzePhoto(c echo.Context) error {
	var body promptRequest
	if err := c.Bind(&body); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	return s.dispatch(c, command.Request{Kind: command.KindAnalyzeImage, Prompt: body.Prompt})
}

func (s *Server) handleUpdateText(c echo.Context) error {
	var body textRequest
	if err := c.Bind(&body); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	return s.dispatch(c, command.Request{Kind: command.KindSendToOLED, Text: body.Text})
}

func (s *Server) handleDisplay(c echo.Context) error {
	var body textRequest
	if err := c.Bind(&body); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	return s.dispatch(c, command.Request{Kind: command.KindDisplayText, Text: body.Text})
}

// dispatch runs the command to completion even if the client goes away;
// only Shutdown cancels it. Failures are returned to the error middleware,
// which writes {success:false, error}.
func (s *Server) dispatch(c echo.Context, req command.Request) error {
	out := s.commands.Dispatch(s.detached(c.Request().Context()), req)
	if !out.Success() {
		return out.Err
	}
	if err := c.JSON(out.HTTPStatus(), out.HTTPBody()); err != nil {
		return fmt.Errorf("failed to write %s response: %w", req.Kind, err)
	}
	return nil
}

// detached returns a command context bound to the server lifetime that keeps
// the request's correlation ID.
func (s *Server) detached(reqCtx context.Context) context.Context {
	if id, ok := correlation.ID(reqCtx); ok {
		return correlation.WithID(s.commandCtx, id)
	}
	return s.commandCtx
}

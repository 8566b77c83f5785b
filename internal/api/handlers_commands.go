package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/cartograph-io/cartograph/internal/auth"
	"github.com/cartograph-io/cartograph/internal/orchestration"
)

// invokeAction invokes a declared action on a component. Asynchronous
// actions return 202 with the queued command; synchronous ones block until
// the command is terminal and return its final record.
func (s *Server) invokeAction(c echo.Context) error {
	var req invokeRequest
	if err := c.Bind(&req); err != nil {
		return BadRequestError("Invalid request body", err.Error())
	}

	cmd, err := s.deps.Orchestrator.Invoke(c.Request().Context(), orchestration.InvokeRequest{
		ComponentID:     c.Param("id"),
		ActionName:      c.Param("action"),
		Args:            req.Args,
		Requester:       auth.Requester(c),
		ConfirmationAck: req.Confirm,
		Nonce:           req.Nonce,
	})
	if err != nil {
		return err
	}

	code := http.StatusOK
	if !cmd.Terminal() {
		code = http.StatusAccepted
	}
	return c.JSON(code, cmd)
}

// getCommand returns a command by id, live or from the audit trail.
func (s *Server) getCommand(c echo.Context) error {
	cmd, err := s.deps.Orchestrator.GetCommand(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cmd)
}

// cancelCommand cancels a non-terminal command. The cancellation is also
// forwarded to the executing agent.
func (s *Server) cancelCommand(c echo.Context) error {
	cmd, err := s.deps.Orchestrator.Cancel(c.Param("id"))
	if err != nil {
		return err
	}
	s.debugLog("command %s cancelled by %s", cmd.ID, auth.Requester(c))
	return c.JSON(http.StatusOK, cmd)
}

// listCommands returns a component's command history, newest first.
func (s *Server) listCommands(c echo.Context) error {
	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return BadRequestError("Invalid request", "limit must be a positive integer")
		}
		limit = parsed
	}

	cmds, err := s.deps.Storage.ListCommands(c.Request().Context(), c.Param("id"), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cmds)
}

package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/cartograph-io/cartograph/models"
)

// registerAgent announces an agent to the control plane. Registration also
// counts as a heartbeat, so a reconnecting agent becomes schedulable
// immediately.
func (s *Server) registerAgent(c echo.Context) error {
	var req agentRegisterRequest
	if err := c.Bind(&req); err != nil {
		return BadRequestError("Invalid request body", err.Error())
	}
	if req.ID == "" {
		return BadRequestError("Invalid request", "agent id is required")
	}

	agent := &models.Agent{
		ID:         req.ID,
		Name:       req.Name,
		Labels:     req.Labels,
		LastSeenAt: time.Now().UTC(),
	}
	s.deps.Agents.Register(agent)

	s.debugLog("agent %s registered with labels %v", agent.ID, agent.Labels)
	return c.JSON(http.StatusOK, agent)
}

// listAgents returns the known agents and when they were last seen.
func (s *Server) listAgents(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Agents.List())
}

// reportChecks ingests a batch of health-check reports. Replayed sequence
// numbers are rejected individually; the batch itself always returns 200
// so agents do not retry accepted reports.
func (s *Server) reportChecks(c echo.Context) error {
	agentID := c.Param("id")

	var reports []models.CheckReport
	if err := c.Bind(&reports); err != nil {
		return BadRequestError("Invalid request body", err.Error())
	}

	resp := reportBatchResponse{}
	for _, report := range reports {
		report.AgentID = agentID
		if _, err := s.deps.Feed.HandleCheckReport(report); err != nil {
			resp.Rejected++
			resp.Errors = append(resp.Errors, err.Error())
			continue
		}
		resp.Accepted++
	}
	return c.JSON(http.StatusOK, resp)
}

// reportAcks ingests a batch of command acknowledgements. An ack for an
// already-resolved command is a no-op and still counts as accepted; unknown
// commands and replayed sequences are rejected individually.
func (s *Server) reportAcks(c echo.Context) error {
	agentID := c.Param("id")

	var reports []models.AckReport
	if err := c.Bind(&reports); err != nil {
		return BadRequestError("Invalid request body", err.Error())
	}

	resp := reportBatchResponse{}
	for _, report := range reports {
		report.AgentID = agentID
		if err := s.deps.Feed.HandleAckReport(report); err != nil {
			resp.Rejected++
			resp.Errors = append(resp.Errors, err.Error())
			continue
		}
		resp.Accepted++
	}
	return c.JSON(http.StatusOK, resp)
}

// pollDispatches drains the agent's pending dispatch queue: commands to
// execute and cancellations to honor. Polling counts as a heartbeat.
func (s *Server) pollDispatches(c echo.Context) error {
	agentID := c.Param("id")
	s.deps.Agents.Heartbeat(agentID)
	return c.JSON(http.StatusOK, s.deps.Transport.Drain(agentID))
}

package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/cartograph-io/cartograph/internal/auth"
	"github.com/cartograph-io/cartograph/models"
)

// createComponent registers a new component: it is persisted, a state
// machine is started for it, and its initial runtime state is returned.
func (s *Server) createComponent(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return BadRequestError("Invalid request body", err.Error())
	}

	result, err := s.validator.ValidateComponent(body)
	if err != nil {
		return InternalError("Validation failed", err.Error())
	}
	if !result.Valid {
		return ValidationFailedError("Component validation failed", fieldErrors(result))
	}

	var component models.Component
	if err := json.Unmarshal(body, &component); err != nil {
		return BadRequestError("Invalid JSON", err.Error())
	}
	if component.ID == "" {
		component.ID = uuid.New().String()
	}
	if component.MapID == "" {
		return BadRequestError("Invalid request", "mapId is required")
	}
	component.UpdatedAt = time.Now().UTC()

	ctx := c.Request().Context()
	if err := s.deps.Storage.UpsertComponent(ctx, &component); err != nil {
		return err
	}
	state, err := s.deps.Registry.Register(&component)
	if err != nil {
		return err
	}
	s.deps.Feed.Track(component.ID)

	s.debugLog("component %s registered on map %s by %s",
		component.ID, component.MapID, auth.Requester(c))

	return c.JSON(http.StatusCreated, componentResponse{
		Component: &component,
		State:     &state,
	})
}

// getComponent returns the stored definition of a component.
func (s *Server) getComponent(c echo.Context) error {
	component, err := s.deps.Storage.GetComponent(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, component)
}

// updateComponent replaces a component's definition. The identifier and map
// are immutable; the running state machine is untouched.
func (s *Server) updateComponent(c echo.Context) error {
	ctx := c.Request().Context()
	existing, err := s.deps.Storage.GetComponent(ctx, c.Param("id"))
	if err != nil {
		return err
	}

	body, err := readBody(c)
	if err != nil {
		return BadRequestError("Invalid request body", err.Error())
	}
	result, err := s.validator.ValidateComponent(body)
	if err != nil {
		return InternalError("Validation failed", err.Error())
	}
	if !result.Valid {
		return ValidationFailedError("Component validation failed", fieldErrors(result))
	}

	var component models.Component
	if err := json.Unmarshal(body, &component); err != nil {
		return BadRequestError("Invalid JSON", err.Error())
	}
	component.ID = existing.ID
	component.MapID = existing.MapID
	component.UpdatedAt = time.Now().UTC()

	if err := s.deps.Storage.UpsertComponent(ctx, &component); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, &component)
}

// deleteComponent unregisters a component: its state machine is discarded
// along with its persisted state, sequence tracking and definition.
func (s *Server) deleteComponent(c echo.Context) error {
	id := c.Param("id")
	ctx := c.Request().Context()

	if err := s.deps.Storage.DeleteComponent(ctx, id); err != nil {
		return err
	}
	// Unregister after the definition is gone; a component may exist in
	// storage without a live machine after a partial restart, so a missing
	// worker is not an error here.
	_ = s.deps.Registry.Unregister(id)
	if err := s.deps.Storage.DeleteComponentState(ctx, id); err != nil {
		s.debugLog("deleting state for %s: %v", id, err)
	}
	s.deps.Feed.Forget(id)

	return c.NoContent(http.StatusNoContent)
}

// getComponentState returns the live runtime state of a component: status,
// latest check results, active command, override and transition history.
func (s *Server) getComponentState(c echo.Context) error {
	id := c.Param("id")
	component, err := s.deps.Storage.GetComponent(c.Request().Context(), id)
	if err != nil {
		return err
	}

	states := s.deps.Registry.SnapshotStates(component.MapID)
	state, ok := states[id]
	if !ok {
		return NotFoundError("Component state", id)
	}
	return c.JSON(http.StatusOK, state)
}

// setOverride pins the component status manually. The override expires after
// the given TTL, or the configured default when omitted.
func (s *Server) setOverride(c echo.Context) error {
	id := c.Param("id")

	var req overrideRequest
	if err := c.Bind(&req); err != nil {
		return BadRequestError("Invalid request body", err.Error())
	}

	status := models.Status(req.Status)
	switch status {
	case models.StatusOK, models.StatusWarning, models.StatusError,
		models.StatusUnknown, models.StatusStarting, models.StatusStopping:
	default:
		return BadRequestError("Invalid request", "unknown status: "+req.Status)
	}

	var ttl time.Duration
	if req.TTL != "" {
		parsed, err := time.ParseDuration(req.TTL)
		if err != nil || parsed <= 0 {
			return BadRequestError("Invalid request", "ttl must be a positive duration")
		}
		ttl = parsed
	}

	state, err := s.deps.Registry.Dispatch(id, models.ManualOverrideEvent{Status: status, TTL: ttl})
	if err != nil {
		return err
	}

	s.debugLog("override %s on %s by %s", status, id, auth.Requester(c))
	return c.JSON(http.StatusOK, state)
}

// clearOverride removes a manual override; status falls back to the
// check-derived value immediately.
func (s *Server) clearOverride(c echo.Context) error {
	state, err := s.deps.Registry.Dispatch(c.Param("id"), models.ManualOverrideEvent{TTL: -1})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, state)
}

// validateComponent checks a component document without storing it.
func (s *Server) validateComponent(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return BadRequestError("Invalid request body", err.Error())
	}
	result, err := s.validator.ValidateComponent(body)
	if err != nil {
		return InternalError("Validation failed", err.Error())
	}
	code := http.StatusOK
	if !result.Valid {
		code = http.StatusUnprocessableEntity
	}
	return c.JSON(code, result)
}

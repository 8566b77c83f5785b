package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"gopkg.in/yaml.v3"

	"github.com/cartograph-io/cartograph/internal/auth"
	"github.com/cartograph-io/cartograph/models"
)

// listMaps returns the identifiers of all maps with registered components.
func (s *Server) listMaps(c echo.Context) error {
	ids, err := s.deps.Storage.ListMapIDs(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ids)
}

// listComponents returns a map's components ordered by external id.
func (s *Server) listComponents(c echo.Context) error {
	components, err := s.deps.Storage.ListComponents(c.Request().Context(), c.Param("mapId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, components)
}

// getMapStatus returns the live runtime state of every component on a map,
// keyed by internal component id.
func (s *Server) getMapStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Registry.SnapshotStates(c.Param("mapId")))
}

// exportDefinition renders the map's current components as a declarative
// YAML definition, addressed by external id only.
func (s *Server) exportDefinition(c echo.Context) error {
	mapID := c.Param("mapId")
	components, err := s.deps.Storage.ListComponents(c.Request().Context(), mapID)
	if err != nil {
		return err
	}

	def := models.MapDefinition{MapID: mapID}
	for _, component := range components {
		def.Components = append(def.Components, component.Definition())
	}

	out, err := yaml.Marshal(&def)
	if err != nil {
		return InternalError("Export failed", err.Error())
	}
	return c.Blob(http.StatusOK, "application/yaml", out)
}

// importResult summarises what a definition import changed.
type importResult struct {
	MapID   string `json:"mapId"`
	Created int    `json:"created"`
	Updated int    `json:"updated"`
	Removed int    `json:"removed"`
}

// importDefinition reconciles the map against a declarative YAML definition:
// new entries are created and registered, known ones are updated in place,
// and components absent from the definition are removed.
func (s *Server) importDefinition(c echo.Context) error {
	mapID := c.Param("mapId")

	body, err := readBody(c)
	if err != nil {
		return BadRequestError("Invalid request body", err.Error())
	}
	var def models.MapDefinition
	if err := yaml.Unmarshal(body, &def); err != nil {
		return BadRequestError("Invalid YAML", err.Error())
	}
	if def.MapID == "" {
		def.MapID = mapID
	}
	if def.MapID != mapID {
		return BadRequestError("Invalid request", "definition mapId does not match the URL")
	}

	result, err := s.validator.ValidateDefinition(&def)
	if err != nil {
		return InternalError("Validation failed", err.Error())
	}
	if !result.Valid {
		return ValidationFailedError("Definition validation failed", fieldErrors(result))
	}

	ctx := c.Request().Context()
	existing, err := s.deps.Storage.ListComponents(ctx, mapID)
	if err != nil {
		return err
	}
	byExternalID := make(map[string]*models.Component, len(existing))
	for _, component := range existing {
		byExternalID[component.ExternalID] = component
	}

	summary := importResult{MapID: mapID}
	keep := make(map[string]bool, len(def.Components))
	now := time.Now().UTC()

	for _, entry := range def.Components {
		keep[entry.ExternalID] = true

		component := &models.Component{
			ID:         uuid.New().String(),
			MapID:      mapID,
			ExternalID: entry.ExternalID,
			Name:       entry.Name,
			Type:       entry.Type,
			Config:     entry.Config,
			Position:   entry.Position,
			UpdatedAt:  now,
		}
		if prev, ok := byExternalID[entry.ExternalID]; ok {
			// Internal id and runtime state survive a definition update.
			component.ID = prev.ID
			summary.Updated++
		} else {
			summary.Created++
		}

		if err := s.deps.Storage.UpsertComponent(ctx, component); err != nil {
			return err
		}
		if _, err := s.deps.Registry.Register(component); err != nil {
			return err
		}
		s.deps.Feed.Track(component.ID)
	}

	for externalID, component := range byExternalID {
		if keep[externalID] {
			continue
		}
		if err := s.deps.Storage.DeleteComponent(ctx, component.ID); err != nil {
			return err
		}
		_ = s.deps.Registry.Unregister(component.ID)
		if err := s.deps.Storage.DeleteComponentState(ctx, component.ID); err != nil {
			s.debugLog("deleting state for %s: %v", component.ID, err)
		}
		s.deps.Feed.Forget(component.ID)
		summary.Removed++
	}

	s.debugLog("definition import on %s by %s: +%d ~%d -%d",
		mapID, auth.Requester(c), summary.Created, summary.Updated, summary.Removed)

	return c.JSON(http.StatusOK, summary)
}

// diffDefinition diffs a proposed definition against a snapshot of the map.
// Without an explicit snapshot id a fresh pre-sync capture is taken, so the
// diff reflects the state the sync would act on.
func (s *Server) diffDefinition(c echo.Context) error {
	mapID := c.Param("mapId")

	body, err := readBody(c)
	if err != nil {
		return BadRequestError("Invalid request body", err.Error())
	}
	var def models.MapDefinition
	if err := yaml.Unmarshal(body, &def); err != nil {
		return BadRequestError("Invalid YAML", err.Error())
	}
	if def.MapID == "" {
		def.MapID = mapID
	}
	if def.MapID != mapID {
		return BadRequestError("Invalid request", "definition mapId does not match the URL")
	}

	report, err := s.deps.Snapshots.Diff(&def, c.QueryParam("snapshot"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/cartograph-io/cartograph/internal/auth"
	"github.com/cartograph-io/cartograph/models"
)

// captureSnapshot takes a manual point-in-time capture of a map.
func (s *Server) captureSnapshot(c echo.Context) error {
	snap, err := s.deps.Snapshots.Capture(c.Param("mapId"), models.SnapshotManual)
	if err != nil {
		return err
	}
	s.debugLog("snapshot %s captured on %s by %s", snap.ID, snap.MapID, auth.Requester(c))
	return c.JSON(http.StatusCreated, snap)
}

// listSnapshots returns a map's retained snapshots, newest first.
func (s *Server) listSnapshots(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Snapshots.List(c.Param("mapId")))
}

// getSnapshot returns a snapshot by id.
func (s *Server) getSnapshot(c echo.Context) error {
	snap, err := s.deps.Snapshots.Get(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snap)
}

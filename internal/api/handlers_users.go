package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/cartograph-io/cartograph/internal/auth"
	"github.com/cartograph-io/cartograph/models"
)

// createUser creates an account. Admin only.
func (s *Server) createUser(c echo.Context) error {
	var req createUserRequest
	if err := c.Bind(&req); err != nil {
		return BadRequestError("Invalid request body", err.Error())
	}
	if len(req.Username) < 3 {
		return BadRequestError("Invalid request", "username must be at least 3 characters")
	}
	if len(req.Password) < 8 {
		return BadRequestError("Invalid request", "password must be at least 8 characters")
	}
	for _, role := range req.Roles {
		switch role {
		case models.RoleAdmin, models.RoleOperator, models.RoleViewer, models.RoleAgent:
		default:
			return BadRequestError("Invalid request", "unknown role: "+role)
		}
	}
	if len(req.Roles) == 0 {
		req.Roles = []models.Role{models.RoleViewer}
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return InternalError("Failed to hash password", err.Error())
	}

	user := &models.User{
		ID:           uuid.New().String(),
		Username:     req.Username,
		PasswordHash: hash,
		Roles:        req.Roles,
		Enabled:      true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.deps.Storage.CreateUser(c.Request().Context(), user); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, user.Response())
}

// listUsers returns all accounts. Admin only.
func (s *Server) listUsers(c echo.Context) error {
	users, err := s.deps.Storage.ListUsers(c.Request().Context())
	if err != nil {
		return err
	}
	responses := make([]models.UserResponse, 0, len(users))
	for _, user := range users {
		responses = append(responses, user.Response())
	}
	return c.JSON(http.StatusOK, responses)
}

// setUserEnabled enables or disables an account. Admin only.
func (s *Server) setUserEnabled(c echo.Context) error {
	var req enabledRequest
	if err := c.Bind(&req); err != nil {
		return BadRequestError("Invalid request body", err.Error())
	}
	if err := s.deps.Storage.SetUserEnabled(c.Request().Context(), c.Param("username"), req.Enabled); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

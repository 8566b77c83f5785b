package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/cartograph-io/cartograph/internal/auth"
)

// login authenticates a user and issues a JWT.
func (s *Server) login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return BadRequestError("Invalid request body", err.Error())
	}
	if req.Username == "" || req.Password == "" {
		return BadRequestError("Invalid request", "username and password are required")
	}

	user, err := s.deps.Storage.GetUserByUsername(c.Request().Context(), req.Username)
	if err != nil {
		// Indistinguishable from a bad password.
		return NewAPIError(http.StatusUnauthorized, "Invalid credentials", "")
	}
	if err := auth.ComparePassword(req.Password, user.PasswordHash); err != nil {
		return NewAPIError(http.StatusUnauthorized, "Invalid credentials", "")
	}

	token, err := s.jwtService.GenerateToken(user)
	if err != nil {
		return NewAPIError(http.StatusUnauthorized, "Invalid credentials", err.Error())
	}

	return c.JSON(http.StatusOK, loginResponse{
		Token: token,
		User:  user.Response(),
	})
}

// me returns the authenticated identity.
func (s *Server) me(c echo.Context) error {
	claims, ok := auth.GetClaims(c)
	if !ok {
		return NewAPIError(http.StatusUnauthorized, "Unauthorized", "no claims in context")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"userId":   claims.UserID,
		"username": claims.Username,
		"roles":    claims.Roles,
	})
}

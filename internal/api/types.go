package api

import (
	"io"

	"github.com/labstack/echo/v4"

	"github.com/cartograph-io/cartograph/internal/validation"
	"github.com/cartograph-io/cartograph/models"
)

// componentResponse pairs a stored definition with its runtime state.
type componentResponse struct {
	Component *models.Component             `json:"component"`
	State     *models.ComponentRuntimeState `json:"state,omitempty"`
}

// overrideRequest pins a component status manually. TTL is a Go duration
// string; empty means the configured default.
type overrideRequest struct {
	Status string `json:"status"`
	TTL    string `json:"ttl,omitempty"`
}

// invokeRequest carries the body of an action invocation.
type invokeRequest struct {
	Args    map[string]any `json:"args,omitempty"`
	Confirm bool           `json:"confirm,omitempty"`
	Nonce   string         `json:"nonce,omitempty"`
}

// agentRegisterRequest announces an agent and its scheduling labels.
type agentRegisterRequest struct {
	ID     string            `json:"id"`
	Name   string            `json:"name,omitempty"`
	Labels map[string]string `json:"labels,omitempty"`
}

// reportBatchResponse summarises ingestion of a report batch.
type reportBatchResponse struct {
	Accepted int      `json:"accepted"`
	Rejected int      `json:"rejected"`
	Errors   []string `json:"errors,omitempty"`
}

// loginRequest carries user credentials.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// loginResponse returns the issued token and the authenticated user.
type loginResponse struct {
	Token string              `json:"token"`
	User  models.UserResponse `json:"user"`
}

// createUserRequest creates an account with the given roles.
type createUserRequest struct {
	Username string        `json:"username"`
	Password string        `json:"password"`
	Roles    []models.Role `json:"roles"`
}

// enabledRequest toggles an account.
type enabledRequest struct {
	Enabled bool `json:"enabled"`
}

// readBody reads the raw request body so it can be validated and decoded in
// separate passes.
func readBody(c echo.Context) ([]byte, error) {
	return io.ReadAll(c.Request().Body)
}

// fieldErrors flattens a validation result for the error response.
func fieldErrors(result *validation.ValidationResult) map[string]string {
	errs := make(map[string]string, len(result.Errors))
	for _, e := range result.Errors {
		errs[e.Field] = e.Message
	}
	return errs
}

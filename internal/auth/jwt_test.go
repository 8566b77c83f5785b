package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/cartograph-io/cartograph/internal/config"
	"github.com/cartograph-io/cartograph/models"
)

func testConfig() *config.Config {
	return &config.Config{
		Security: config.SecurityConfig{
			AuthEnabled:      true,
			JWTSecret:        "unit-test-secret",
			JWTExpiration:    time.Hour,
			AgentTokenSecret: "unit-test-agent-secret",
		},
	}
}

func TestGenerateAndValidateToken(t *testing.T) {
	svc := NewJWTService(testConfig())

	user := &models.User{
		ID:       "user:1",
		Username: "alice",
		Roles:    []models.Role{models.RoleOperator},
		Enabled:  true,
	}

	token, err := svc.GenerateToken(user)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims.UserID != "user:1" {
		t.Errorf("Expected user_id 'user:1', got '%s'", claims.UserID)
	}
	if claims.Username != "alice" {
		t.Errorf("Expected username 'alice', got '%s'", claims.Username)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != models.RoleOperator {
		t.Errorf("Expected roles [operator], got %v", claims.Roles)
	}
}

func TestGenerateTokenDisabledUser(t *testing.T) {
	svc := NewJWTService(testConfig())

	user := &models.User{ID: "user:1", Username: "alice", Enabled: false}
	if _, err := svc.GenerateToken(user); !errors.Is(err, ErrUserDisabled) {
		t.Errorf("Expected ErrUserDisabled, got %v", err)
	}
}

func TestValidateTokenWrongSecret(t *testing.T) {
	svc := NewJWTService(testConfig())
	other := NewJWTService(&config.Config{
		Security: config.SecurityConfig{
			JWTSecret:     "a-different-secret",
			JWTExpiration: time.Hour,
		},
	})

	user := &models.User{ID: "user:1", Username: "alice", Roles: []models.Role{models.RoleViewer}, Enabled: true}
	token, err := other.GenerateToken(user)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	if _, err := svc.ValidateToken(token); err == nil {
		t.Error("Expected validation to fail for a token signed with another secret")
	}
}

func TestAgentTokenValidatesWithAgentSecret(t *testing.T) {
	cfg := testConfig()
	svc := NewJWTService(cfg)

	token, err := GenerateAgentToken(cfg.Security.AgentTokenSecret, "agent-1", time.Hour)
	if err != nil {
		t.Fatalf("GenerateAgentToken failed: %v", err)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken failed for agent token: %v", err)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != models.RoleAgent {
		t.Errorf("Expected roles [agent], got %v", claims.Roles)
	}
	if claims.Subject != "agent-1" {
		t.Errorf("Expected subject 'agent-1', got '%s'", claims.Subject)
	}
}

func TestGenerateAgentTokenRequiresSecret(t *testing.T) {
	if _, err := GenerateAgentToken("", "agent-1", time.Hour); err == nil {
		t.Error("Expected error for empty agent secret")
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("s3cret-password")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}

	if err := ComparePassword("s3cret-password", hash); err != nil {
		t.Errorf("Expected matching password to compare clean, got %v", err)
	}
	if err := ComparePassword("wrong-password", hash); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Expected ErrInvalidCredentials, got %v", err)
	}
}

// Package auth provides authentication and authorization services for
// Cartograph. It implements JWT-based authentication with role-based access
// control (RBAC).
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/cartograph-io/cartograph/internal/config"
	"github.com/cartograph-io/cartograph/models"
)

var (
	// ErrInvalidToken is returned when a JWT token is invalid
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when a JWT token has expired
	ErrExpiredToken = errors.New("token has expired")
	// ErrInvalidCredentials is returned when credentials are incorrect
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserDisabled is returned when a user account is disabled
	ErrUserDisabled = errors.New("user account is disabled")
)

// Claims represents JWT custom claims
type Claims struct {
	UserID   string        `json:"user_id"`
	Username string        `json:"username"`
	Roles    []models.Role `json:"roles"`
	jwt.RegisteredClaims
}

// JWTService provides JWT authentication services
type JWTService struct {
	secret      []byte
	agentSecret []byte
	expiration  time.Duration
}

// NewJWTService creates a new JWT service
func NewJWTService(cfg *config.Config) *JWTService {
	return &JWTService{
		secret:      []byte(cfg.Security.JWTSecret),
		agentSecret: []byte(cfg.Security.AgentTokenSecret),
		expiration:  cfg.Security.JWTExpiration,
	}
}

// GenerateAgentToken generates a JWT token for agent authentication. Agent
// tokens are signed with the dedicated agent secret and carry only the agent
// role.
func GenerateAgentToken(agentSecret string, agentID string, expiration time.Duration) (string, error) {
	if agentSecret == "" {
		return "", fmt.Errorf("agent secret is required")
	}

	now := time.Now()
	expiresAt := now.Add(expiration)

	claims := Claims{
		UserID:   "agent:" + agentID,
		Username: "agent-" + agentID,
		Roles:    []models.Role{models.RoleAgent},
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "cartograph-agent",
			Subject:   agentID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(agentSecret))
}

// GenerateToken generates a new JWT access token for a user
func (s *JWTService) GenerateToken(user *models.User) (string, error) {
	if !user.Enabled {
		return "", ErrUserDisabled
	}

	now := time.Now()
	expiresAt := now.Add(s.expiration)

	claims := Claims{
		UserID:   user.ID,
		Username: user.Username,
		Roles:    user.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "cartograph",
			Subject:   user.ID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// ValidateToken validates a JWT token and returns the claims. Tokens signed
// with the primary secret are tried first, then the agent secret, so agents
// and users share one bearer scheme.
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	claims, err := s.parseWithSecret(tokenString, s.secret)
	if err == nil {
		return claims, nil
	}
	if errors.Is(err, ErrExpiredToken) || len(s.agentSecret) == 0 {
		return nil, err
	}
	return s.parseWithSecret(tokenString, s.agentSecret)
}

func (s *JWTService) parseWithSecret(tokenString string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// ComparePassword compares a password with its hash
func ComparePassword(password, hash string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrInvalidCredentials
		}
		return err
	}
	return nil
}

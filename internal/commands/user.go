package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cartograph-io/cartograph/internal/auth"
	"github.com/cartograph-io/cartograph/internal/storage"
	"github.com/cartograph-io/cartograph/models"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
}

var createUserCmd = &cobra.Command{
	Use:   "create [username]",
	Short: "Create a user account",
	Long: `Create a user account directly in the database.

This is how the first admin account is bootstrapped; afterwards accounts
can be managed through the API.

Examples:
  cartograph user create admin --password s3cret --roles admin
  cartograph user create probe --password s3cret --roles viewer,operator`,
	Args: cobra.ExactArgs(1),
	RunE: runCreateUser,
}

var (
	userPassword string
	userRoles    []string
)

func init() {
	createUserCmd.Flags().StringVar(&userPassword, "password", "", "Password for the new account (required)")
	createUserCmd.Flags().StringSliceVar(&userRoles, "roles", []string{models.RoleViewer}, "Roles (admin, operator, viewer, agent)")
	_ = createUserCmd.MarkFlagRequired("password") //nolint:errcheck

	userCmd.AddCommand(createUserCmd)
}

func runCreateUser(cmd *cobra.Command, args []string) error {
	username := args[0]
	if len(userPassword) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}
	for _, role := range userRoles {
		switch role {
		case models.RoleAdmin, models.RoleOperator, models.RoleViewer, models.RoleAgent:
		default:
			return fmt.Errorf("unknown role: %s", role)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := storage.Open(ctx, cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	hash, err := auth.HashPassword(userPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: hash,
		Roles:        userRoles,
		Enabled:      true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := store.CreateUser(ctx, user); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	fmt.Printf("User %s created with roles %v\n", username, userRoles)
	return nil
}

package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cartograph-io/cartograph/internal/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage authentication tokens",
	Long:  `Generate and manage authentication tokens for agents`,
}

var generateAgentTokenCmd = &cobra.Command{
	Use:   "agent [agent-id]",
	Short: "Generate an agent authentication token",
	Long: `Generate a JWT token for agent authentication.

The token is signed with the agent_token_secret from the configuration file
and includes the agent ID in the claims. By default, tokens expire after 1 year.

Examples:
  # Generate token for an agent
  cartograph token agent probe-eu-1

  # Generate token with custom expiration (in hours)
  cartograph token agent probe-eu-1 --expiration 8760

  # Use custom secret (overrides config)
  cartograph token agent probe-eu-1 --secret "my-custom-secret"`,
	Args: cobra.ExactArgs(1),
	RunE: runGenerateAgentToken,
}

var (
	tokenExpiration int64
	tokenSecret     string
)

func init() {
	generateAgentTokenCmd.Flags().Int64Var(&tokenExpiration, "expiration", 8760, "Token expiration in hours (default: 8760 = 1 year)")
	generateAgentTokenCmd.Flags().StringVar(&tokenSecret, "secret", "", "Agent token secret (default: from config file)")

	tokenCmd.AddCommand(generateAgentTokenCmd)
}

func runGenerateAgentToken(cmd *cobra.Command, args []string) error {
	agentID := args[0]

	secret := tokenSecret
	if secret == "" {
		if cfg != nil {
			// Use agent_token_secret if provided, otherwise fall back to jwt_secret
			secret = cfg.Security.AgentTokenSecret
			if secret == "" {
				secret = cfg.Security.JWTSecret
			}
		}

		if secret == "" {
			return fmt.Errorf(`jwt_secret not found in config file and --secret not provided

Please either:
  1. Add to your config.yaml:
     security:
       jwt_secret: your-secret-here

  2. Or use the --secret flag:
     cartograph token agent %s --secret "your-secret-here"`, agentID)
		}
	}

	expiration := time.Duration(tokenExpiration) * time.Hour

	token, err := auth.GenerateAgentToken(secret, agentID, expiration)
	if err != nil {
		return fmt.Errorf("failed to generate token: %w", err)
	}

	fmt.Printf("Agent Token Generated Successfully\n")
	fmt.Printf("==================================\n\n")
	fmt.Printf("Agent ID:   %s\n", agentID)
	fmt.Printf("Expiration: %s (%d hours)\n", expiration, tokenExpiration)
	fmt.Printf("\nToken:\n%s\n\n", token)
	fmt.Printf("Keep this token secure! It grants agent access to your Cartograph instance.\n")

	return nil
}

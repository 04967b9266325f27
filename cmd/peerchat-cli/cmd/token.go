package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/nfrund/peerchat/internal/auth"
	"github.com/nfrund/peerchat/internal/domain"
	"github.com/spf13/cobra"
)

var (
	tokenName   string
	tokenRole   string
	tokenAvatar string
	tokenTTL    time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Mint a bearer token for a user",
	Long: `Mint a signed bearer token the server will accept for the given user.
The signing secret is read from AUTH_JWT_SECRET (a .env file is honoured).

Examples:
  peerchat-cli token alice --name Alice --role teacher
  peerchat-cli token bob --ttl 1h`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()
		secret := os.Getenv("AUTH_JWT_SECRET")
		if secret == "" {
			return fmt.Errorf("AUTH_JWT_SECRET is not set")
		}

		if tokenName == "" {
			tokenName = args[0]
		}
		id := domain.Identity{
			UserID:      args[0],
			DisplayName: tokenName,
			Role:        domain.ParseRole(tokenRole),
			AvatarURL:   tokenAvatar,
		}
		token, err := auth.NewTokenService(secret, tokenTTL).Mint(id)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().StringVar(&tokenName, "name", "", "Display name (defaults to the user id)")
	tokenCmd.Flags().StringVar(&tokenRole, "role", "student", "Role (student, teacher, admin)")
	tokenCmd.Flags().StringVar(&tokenAvatar, "avatar", "", "Avatar URL")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 12*time.Hour, "Token lifetime")
}

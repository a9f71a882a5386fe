package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vigilguard/vigil/internal/api/handlers"
)

var tokenLifetime time.Duration

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an admin API token",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.JWTSecret == "" {
			return errors.New("VIGIL_JWT_SECRET is not configured")
		}
		token, err := handlers.IssueToken(cfg.JWTSecret, tokenLifetime)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenLifetime, "lifetime", 24*time.Hour, "Token validity period")
	rootCmd.AddCommand(tokenCmd)
}

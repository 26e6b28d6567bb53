package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/david/grant-enhancer/internal/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an admin bearer token",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ttl, _ := cmd.Flags().GetDuration("ttl")
		subject, _ := cmd.Flags().GetString("subject")

		admin, err := auth.NewAdmin(auth.Credentials{
			Secret:     cfg.Admin.Secret,
			SecretHash: cfg.Admin.SecretHash,
			JWTSecret:  cfg.Admin.JWTSecret,
		})
		if err != nil {
			return err
		}
		token, err := admin.MintToken(subject, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().Duration("ttl", 12*time.Hour, "token lifetime")
	tokenCmd.Flags().String("subject", "grantctl", "token subject")
	rootCmd.AddCommand(tokenCmd)
}

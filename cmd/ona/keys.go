package main

import (
	"fmt"

	"github.com/onaplatform/ona-api/internal/auth"
	"github.com/onaplatform/ona-api/pkg/licensing"
	"github.com/spf13/cobra"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a license key and its storage fingerprint",
	Long: `Generate a random license key without storing it. The fingerprint is
what the license store keeps; use "ona license issue" to register a key.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := licensing.GenerateKey()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "key:         %s\n", key)
		fmt.Fprintf(out, "fingerprint: %s\n", licensing.HashKey(key))
		return nil
	},
}

var hashTokenCmd = &cobra.Command{
	Use:   "hash-token [token]",
	Short: "Hash an admin token for license.admin_token_hash",
	Long: `Print the bcrypt hash of an admin token. Without an argument a random
token is generated and printed alongside its hash.`,
	Example: `  ona hash-token
  ona hash-token 8f1c...`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		var token string
		if len(args) == 1 {
			token = args[0]
		} else {
			generated, err := auth.GenerateToken()
			if err != nil {
				return err
			}
			token = generated
			fmt.Fprintf(out, "token: %s\n", token)
		}
		hash, err := auth.HashToken(token)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "hash:  %s\n", hash)
		return nil
	},
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mtgjson/mtgjson-go/internal/core/auth"
)

var genKeyCmd = &cobra.Command{
	Use:   "gen-key",
	Short: "Generate an API key for server.api_keys",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := auth.GenerateAPIKey()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), key)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(genKeyCmd)
}

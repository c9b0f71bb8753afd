package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mtgjson/mtgjson-go/internal/booster"
	"github.com/mtgjson/mtgjson-go/internal/sdk"
)

var boosterCmd = &cobra.Command{
	Use:   "booster",
	Short: "Simulate booster packs",
}

var boosterTypesCmd = &cobra.Command{
	Use:   "types <set>",
	Short: "List the booster types configured for a set",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		session, _, cleanup, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		kinds, err := session.Booster().AvailableTypes(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		for _, k := range kinds {
			fmt.Fprintln(cmd.OutOrStdout(), k)
		}
		return nil
	},
}

var boosterOpenCmd = &cobra.Command{
	Use:   "open <set> <type>",
	Short: "Open one or more packs",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		packs, _ := cmd.Flags().GetInt("packs")
		var opts []func(*sdk.Options)
		if cmd.Flags().Changed("seed") {
			seed, _ := cmd.Flags().GetUint64("seed")
			opts = append(opts, func(o *sdk.Options) { o.Rand = booster.NewRand(seed) })
		}

		session, _, cleanup, err := openSession(cmd, opts...)
		if err != nil {
			return err
		}
		defer cleanup()

		box, err := session.Booster().OpenBox(cmd.Context(), args[0], args[1], packs)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), box)
	},
}

var boosterSheetCmd = &cobra.Command{
	Use:   "sheet <set> <type> <sheet>",
	Short: "Show a sheet's properties and card weights",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		session, _, cleanup, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		sheet, err := session.Booster().Sheet(cmd.Context(), args[0], args[1], args[2])
		if err != nil {
			return err
		}
		if sheet == nil {
			return fmt.Errorf("no sheet %q for %s %s", args[2], args[0], args[1])
		}
		return printJSON(cmd.OutOrStdout(), sheet)
	},
}

func init() {
	boosterOpenCmd.Flags().Int("packs", 1, "number of packs to open")
	boosterOpenCmd.Flags().Uint64("seed", 0, "random seed for reproducible packs")

	boosterCmd.AddCommand(boosterTypesCmd, boosterOpenCmd, boosterSheetCmd)
	rootCmd.AddCommand(boosterCmd)
}

package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mtgjson/mtgjson-go/internal/export"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Copy a view into a SQLite, PostgreSQL or SQL Server database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		view, _ := cmd.Flags().GetString("view")
		table, _ := cmd.Flags().GetString("table")
		dbURL, _ := cmd.Flags().GetString("db-url")
		if dbURL == "" {
			return fmt.Errorf("--db-url required")
		}

		session, _, cleanup, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		ctx := cmd.Context()
		if err := session.EnsureViews(ctx, view); err != nil {
			return err
		}
		rows, err := session.SQL(ctx, `SELECT * FROM "`+strings.ReplaceAll(view, `"`, `""`)+`"`)
		if err != nil {
			return err
		}
		st, err := session.Version(ctx)
		if err != nil {
			return err
		}

		exp, err := export.Open(dbURL)
		if err != nil {
			return err
		}
		defer exp.Close()

		res, err := exp.Export(ctx, export.Request{
			View:    view,
			Table:   table,
			Version: st.Local,
			Rows:    rows,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var exportHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List exports recorded in a database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		view, _ := cmd.Flags().GetString("view")
		dbURL, _ := cmd.Flags().GetString("db-url")
		if dbURL == "" {
			return fmt.Errorf("--db-url required")
		}

		exp, err := export.Open(dbURL)
		if err != nil {
			return err
		}
		defer exp.Close()

		records, err := exp.History(cmd.Context(), view)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), records)
	},
}

func init() {
	exportCmd.PersistentFlags().String("db-url", "", "destination database URL (sqlite://, postgres://, sqlserver://)")
	exportCmd.Flags().String("view", "cards", "view to export")
	exportCmd.Flags().String("table", "", "destination table (default: the view name)")
	exportHistoryCmd.Flags().String("view", "", "only list exports of this view")

	exportCmd.AddCommand(exportHistoryCmd)
	rootCmd.AddCommand(exportCmd)
}

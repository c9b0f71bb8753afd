package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mtgjson/mtgjson-go/internal/cache"
	"github.com/mtgjson/mtgjson-go/internal/parquetmeta"
	"github.com/mtgjson/mtgjson-go/internal/types"
)

var versionCheckCmd = &cobra.Command{
	Use:   "version-check",
	Short: "Compare the cached data version with the CDN",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		session, _, cleanup, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		st, err := session.Version(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), st)
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Clear the cache if a newer version is published",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		session, _, cleanup, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		stale, err := session.Refresh(cmd.Context())
		if err != nil {
			return err
		}
		if stale {
			fmt.Fprintln(cmd.OutOrStdout(), "cache was stale and has been cleared")
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "cache is up to date")
		}
		return nil
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <dataset>...",
	Short: "Download datasets into the cache",
	Long:  "Download datasets into the cache. With --all, every known dataset is fetched.",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		if all {
			args = append(cache.Names(types.KindParquet), cache.Names(types.KindJSON)...)
		}
		if len(args) == 0 {
			return fmt.Errorf("name at least one dataset, or pass --all")
		}

		session, _, cleanup, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		paths, err := session.Fetch(cmd.Context(), args...)
		for i, p := range paths {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", args[i], p)
		}
		return err
	},
}

var sqlCmd = &cobra.Command{
	Use:   "sql <query> [params...]",
	Short: "Run a SQL query against materialized views",
	Long: `Run a SQL query with positional ? parameters. Views named with --view are
materialized first; parameters are passed as strings.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		views, _ := cmd.Flags().GetStringSlice("view")

		session, _, cleanup, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		ctx := cmd.Context()
		if len(views) > 0 {
			if err := session.EnsureViews(ctx, views...); err != nil {
				return err
			}
		}
		params := make([]any, 0, len(args)-1)
		for _, p := range args[1:] {
			params = append(params, p)
		}
		rows, err := session.SQL(ctx, args[0], params...)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), rows)
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <dataset>",
	Short: "Show a cached parquet file's schema and how its view is adapted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		entry, err := cache.Lookup(name)
		if err != nil {
			return err
		}
		if entry.Kind != types.KindParquet {
			return types.InvalidArgument("%s is a %s document, not a parquet dataset", name, entry.Kind)
		}

		session, _, cleanup, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		paths, err := session.Fetch(cmd.Context(), name)
		if err != nil {
			return err
		}
		info, err := parquetmeta.Read(paths[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"dataset": name,
			"path":    paths[0],
			"footer":  info,
			"plan":    info.Plan(name),
		})
	},
}

func init() {
	fetchCmd.Flags().Bool("all", false, "fetch every known dataset")
	sqlCmd.Flags().StringSlice("view", nil, "datasets to materialize before running the query")

	rootCmd.AddCommand(versionCheckCmd, refreshCmd, fetchCmd, sqlCmd, inspectCmd)
}

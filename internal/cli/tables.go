package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jacentio/canopy/config"
	"github.com/jacentio/canopy/store"
)

// NewTablesCommand creates the tables command group.
func NewTablesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tables",
		Short: "Inspect and provision DynamoDB tables",
	}
	cmd.AddCommand(newTablesListCommand(rootOpts))
	cmd.AddCommand(newTablesCreateCommand(rootOpts))
	return cmd
}

func newTablesListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print the tables and indexes the schema needs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			// Listing needs no AWS access.
			cfg.Store = config.StoreMemory
			cfg.FilesBucket = ""
			stubFetchers(cfg)
			a, err := newApp(cmd.Context(), cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			return printSpecs(cmd, rootOpts.Format, cfg.Dynamo(), a.tableSpecs())
		},
	}
}

func printSpecs(cmd *cobra.Command, format string, dc store.DynamoConfig, specs []store.TableSpec) error {
	out := cmd.OutOrStdout()
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(specs)
	}
	for _, s := range specs {
		fmt.Fprintln(out, dc.PhysicalTable(s.Table))
		for _, idx := range s.Indexes {
			fmt.Fprintf(out, "  %s (%s)\n", idx.Name, idx.Field)
		}
	}
	return nil
}

func newTablesCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create missing tables with their indexes, streams and TTL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			if cfg.Store != config.StoreDynamo {
				return fmt.Errorf("tables create needs CANOPY_STORE=%s", config.StoreDynamo)
			}
			a, err := newApp(cmd.Context(), cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			created, err := store.Provision(cmd.Context(), a.dynamo, cfg.Dynamo(), a.tableSpecs(), wait)
			for _, t := range created {
				fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", cfg.Dynamo().PhysicalTable(t))
			}
			if err != nil {
				return err
			}
			if len(created) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "all tables exist")
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 2*time.Minute, "how long to wait for each table to become active")
	return cmd
}

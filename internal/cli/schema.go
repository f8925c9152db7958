package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jacentio/canopy/config"
	"github.com/jacentio/canopy/schema"
)

// CheckResult is the json output of schema check.
type CheckResult struct {
	Valid      bool     `json:"valid"`
	Error      string   `json:"error,omitempty"`
	Tables     []string `json:"tables,omitempty"`
	Operations []string `json:"operations,omitempty"`
}

// NewSchemaCommand creates the schema command group.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Work with schema files",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check [file]",
		Short: "Validate a schema file and list the operations it generates",
		Long: `Validate a schema file without touching any store.

The file is decoded, checked, and mounted on an in-memory engine, so
errors in where clauses or table relations are reported too.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				rootOpts.Schema = args[0]
			}
			return runSchemaCheck(rootOpts, cmd)
		},
	})
	return cmd
}

// stubFetchers gives every cache table a fetcher so the schema mounts
// without its sources.
func stubFetchers(cfg *config.Config) {
	f, err := schema.LoadFile(cfg.SchemaFile)
	if err != nil {
		return
	}
	var pairs []string
	for _, t := range f.Tables {
		if t.Cache != nil && t.Cache.Fetcher != "" {
			pairs = append(pairs, t.Cache.Fetcher+"=http://unused.invalid")
		}
	}
	cfg.Fetchers = strings.Join(pairs, ",")
}

func runSchemaCheck(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	cfg.Store = config.StoreMemory
	cfg.FilesBucket = ""
	stubFetchers(cfg)

	res := CheckResult{Valid: true}
	a, err := newApp(context.Background(), cfg, cmd.ErrOrStderr())
	if err != nil {
		res = CheckResult{Error: err.Error()}
	} else {
		defer a.Close()
		res.Tables = a.engine.Tables()
		res.Operations = a.engine.Operations()
	}

	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else if res.Valid {
		fmt.Fprintf(out, "%s: ok (%d tables, %d operations)\n", cfg.SchemaFile, len(res.Tables), len(res.Operations))
		for _, t := range res.Tables {
			fmt.Fprintf(out, "  %s\n", t)
		}
	} else {
		fmt.Fprintf(out, "%s: %s\n", cfg.SchemaFile, res.Error)
	}
	if !res.Valid {
		return errors.New("schema is invalid")
	}
	return nil
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danthegoodman1/kvsql/config"
	"github.com/danthegoodman1/kvsql/export"
	"github.com/danthegoodman1/kvsql/gologger"
	"github.com/danthegoodman1/kvsql/http_server"
	"github.com/danthegoodman1/kvsql/loader"
	"github.com/danthegoodman1/kvsql/migrations"
	"github.com/danthegoodman1/kvsql/partitioner"
	"github.com/danthegoodman1/kvsql/session"
	"github.com/danthegoodman1/kvsql/table"
	"github.com/danthegoodman1/kvsql/utils"
	"github.com/spf13/cobra"
)

var (
	logger = gologger.NewLogger()

	configFile string

	ErrS3NotConfigured = errors.New("--s3 needs s3_bucket to be configured")
)

var rootCmd = &cobra.Command{
	Use:          "kvsql",
	Short:        "SQL table scans over an embedded sorted key-value store",
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file, default ./kvsql.yaml")
	rootCmd.AddCommand(serveCmd(), migrateCmd(), createTableCmd(), loadCmd(), scanCmd(), explainCmd(), exportCmd(), mergeCmd(), partsCmd())
}

// withKVSQL loads config, lets adjust override it, opens the database and
// runs f against it.
func withKVSQL(cmd *cobra.Command, adjust func(cfg *config.Config) error, f func(ctx context.Context, k *KVSQL) error) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if adjust != nil {
		if err := adjust(cfg); err != nil {
			return err
		}
	}
	ctx := logger.WithContext(cmd.Context())
	k, err := NewKVSQL(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := k.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("error shutting down")
		}
	}()
	return f(ctx, k)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withKVSQL(cmd, nil, func(ctx context.Context, k *KVSQL) error {
				logger.Debug().Msg("starting kvsql")
				httpServer, err := http_server.StartHTTPServer(k.Config.HTTPPort, k.HTTPDeps())
				if err != nil {
					return err
				}

				c := make(chan os.Signal, 1)
				signal.Notify(c, os.Interrupt, syscall.SIGTERM)
				<-c
				logger.Warn().Msg("received shutdown signal!")

				// For AWS ALB needing some time to de-register pod
				sleepTime := k.Config.ShutdownSleepSec
				logger.Info().Msg(fmt.Sprintf("sleeping for %ds before exiting", sleepTime))
				time.Sleep(time.Second * time.Duration(sleepTime))
				logger.Info().Msg(fmt.Sprintf("slept for %ds, exiting", sleepTime))

				ctx, cancel := context.WithTimeout(ctx, time.Second*10)
				defer cancel()
				if err := httpServer.Shutdown(ctx); err != nil {
					logger.Error().Err(err).Msg("failed to shutdown HTTP server")
				} else {
					logger.Info().Msg("successfully shutdown HTTP server")
				}
				return nil
			})
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply catalog migrations to the CRDB metastore",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("error loading config: %w", err)
			}
			applied, err := migrations.RunMigrations(cfg.CRDBDSN)
			if err != nil {
				return fmt.Errorf("error running migrations: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migrations\n", applied)
			return nil
		},
	}
}

// readArg returns arg, or the contents of the file it names when it starts
// with @. `@-` reads stdin.
func readArg(cmd *cobra.Command, arg string) ([]byte, error) {
	if !strings.HasPrefix(arg, "@") {
		return []byte(arg), nil
	}
	name := strings.TrimPrefix(arg, "@")
	if name == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(name)
}

func createTableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create-table <json | @file>",
		Short: "Create a table from its JSON definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readArg(cmd, args[0])
			if err != nil {
				return fmt.Errorf("error reading table definition: %w", err)
			}
			var def table.TableDef
			if err := json.Unmarshal(raw, &def); err != nil {
				return fmt.Errorf("error in json.Unmarshal: %w", err)
			}
			return withKVSQL(cmd, nil, func(ctx context.Context, k *KVSQL) error {
				ts, err := k.CreateTable(ctx, def)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), ts)
			})
		},
	}
}

func loadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load <table> <ndjson file | ->",
		Short: "Bulk load NDJSON rows into a table",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if args[1] != "-" {
				f, err := os.Open(args[1])
				if err != nil {
					return fmt.Errorf("error in os.Open: %w", err)
				}
				defer f.Close()
				r = f
			}
			maps, err := loader.ParseNDJSON(r)
			if err != nil {
				return err
			}
			rows, err := loader.FlattenRows(maps)
			if err != nil {
				return err
			}
			return withKVSQL(cmd, nil, func(ctx context.Context, k *KVSQL) error {
				rowids, err := k.Loader.PutRows(ctx, args[0], rows)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "loaded %d rows\n", len(rowids))
				return nil
			})
		},
	}
}

type scanFlags struct {
	where   []string
	columns []string
	orderBy []string
	rowid   bool
	limit   int
}

func (sf *scanFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVar(&sf.where, "where", nil, "filter like col=val or col>=val, repeatable, ANDed")
	cmd.Flags().StringSliceVar(&sf.columns, "columns", nil, "columns to return, default all")
	cmd.Flags().StringSliceVar(&sf.orderBy, "order-by", nil, "sort columns, col or col:desc")
	cmd.Flags().BoolVar(&sf.rowid, "rowid", false, "also return rowid")
	cmd.Flags().IntVar(&sf.limit, "limit", 0, "max rows")
}

// request builds the scan request the flags describe.
func (sf *scanFlags) request(ctx context.Context, cmd *cobra.Command, k *KVSQL, tableName string) (session.ScanRequest, error) {
	conds := make([]session.Condition, 0, len(sf.where))
	for _, w := range sf.where {
		c, err := session.ParseCondition(w)
		if err != nil {
			return session.ScanRequest{}, err
		}
		conds = append(conds, c)
	}
	order := make([]session.OrderBy, 0, len(sf.orderBy))
	for _, o := range sf.orderBy {
		col, dir, _ := strings.Cut(o, ":")
		order = append(order, session.OrderBy{Column: col, Desc: strings.EqualFold(dir, "desc")})
	}
	filters, sorts, err := k.Session.Resolve(ctx, tableName, conds, order)
	if err != nil {
		return session.ScanRequest{}, err
	}

	columns := sf.columns
	if sf.rowid && !utils.ContainsString(columns, table.RowIDColumn) {
		if len(columns) == 0 {
			ts, err := k.GC.MetaStore.GetTableSchema(ctx, tableName)
			if err != nil {
				return session.ScanRequest{}, err
			}
			for _, col := range ts.Def.Columns {
				columns = append(columns, col.Name)
			}
		}
		columns = append([]string{table.RowIDColumn}, columns...)
	}

	req := session.ScanRequest{Table: tableName, Columns: columns, Filters: filters, Order: sorts}
	if cmd.Flags().Changed("limit") {
		req.Limit = utils.Ptr(sf.limit)
	}
	return req, nil
}

func scanCmd() *cobra.Command {
	sf := &scanFlags{}
	cmd := &cobra.Command{
		Use:   "scan <table>",
		Short: "Scan a table and print its rows as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKVSQL(cmd, nil, func(ctx context.Context, k *KVSQL) error {
				req, err := sf.request(ctx, cmd, k, args[0])
				if err != nil {
					return err
				}
				res, err := k.Session.Scan(ctx, req)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	sf.register(cmd)
	return cmd
}

func explainCmd() *cobra.Command {
	sf := &scanFlags{}
	var verbose bool
	cmd := &cobra.Command{
		Use:   "explain <table>",
		Short: "Print the plan of a scan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKVSQL(cmd, nil, func(ctx context.Context, k *KVSQL) error {
				req, err := sf.request(ctx, cmd, k, args[0])
				if err != nil {
					return err
				}
				explain, err := k.Session.Explain(ctx, req, verbose)
				if err != nil {
					return err
				}
				for _, p := range explain.StringifiedPlans {
					fmt.Fprintln(cmd.OutOrStdout(), p)
				}
				return nil
			})
		},
	}
	sf.register(cmd)
	cmd.Flags().BoolVar(&verbose, "verbose", false, "include the physical scan plan")
	return cmd
}

// parsePartitionPlan parses func:arg:as, e.g. toYear:ts:year.
func parsePartitionPlan(s string) (partitioner.PartitionPlan, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return partitioner.PartitionPlan{}, fmt.Errorf("invalid partition %q, expected func:arg:as", s)
	}
	return partitioner.PartitionPlan{Func: parts[0], Args: []string{parts[1]}, As: parts[2]}, nil
}

func sinkFlags(cmd *cobra.Command, dir *string, toS3 *bool) {
	cmd.Flags().StringVar(dir, "dir", "", "write parts under this directory")
	cmd.Flags().BoolVar(toS3, "s3", false, "write parts to the configured S3 bucket")
	cmd.MarkFlagsMutuallyExclusive("dir", "s3")
}

func adjustSink(dir string, toS3 bool) func(cfg *config.Config) error {
	return func(cfg *config.Config) error {
		switch {
		case dir != "":
			cfg.ExportDir = dir
			cfg.S3Bucket = ""
		case toS3 && cfg.S3Bucket == "":
			return ErrS3NotConfigured
		}
		return nil
	}
}

func exportCmd() *cobra.Command {
	var (
		dir        string
		toS3       bool
		partitions []string
	)
	cmd := &cobra.Command{
		Use:   "export <table>...",
		Short: "Export tables as parquet parts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plans := make([]partitioner.PartitionPlan, 0, len(partitions))
			for _, p := range partitions {
				plan, err := parsePartitionPlan(p)
				if err != nil {
					return err
				}
				plans = append(plans, plan)
			}
			return withKVSQL(cmd, adjustSink(dir, toS3), func(ctx context.Context, k *KVSQL) error {
				stats, err := k.Exporter.ExportTables(ctx, args, plans)
				if perr := printJSON(cmd.OutOrStdout(), stats); perr != nil {
					return perr
				}
				return err
			})
		},
	}
	sinkFlags(cmd, &dir, &toS3)
	cmd.Flags().StringArrayVar(&partitions, "partition", nil, "partition as func:arg:as, e.g. toYear:ts:year, repeatable")
	return cmd
}

func mergeCmd() *cobra.Command {
	var (
		dir       string
		toS3      bool
		partition string
		maxFiles  int32
	)
	cmd := &cobra.Command{
		Use:   "merge <table>",
		Short: "Merge small parts of a partition into one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := export.MergeOptions{MaxMergeFiles: utils.Ptr(maxFiles)}
			if cmd.Flags().Changed("partition") {
				opts.Partition = utils.Ptr(partition)
			}
			return withKVSQL(cmd, adjustSink(dir, toS3), func(ctx context.Context, k *KVSQL) error {
				stats, err := k.Exporter.MergeParts(ctx, args[0], opts)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), stats)
			})
		},
	}
	sinkFlags(cmd, &dir, &toS3)
	cmd.Flags().StringVar(&partition, "partition", "", "only merge this partition path")
	cmd.Flags().Int32Var(&maxFiles, "max-files", 4, "most parts merged at once")
	return cmd
}

func partsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parts <table>",
		Short: "List the alive exported parts of a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKVSQL(cmd, nil, func(ctx context.Context, k *KVSQL) error {
				parts, err := k.GC.MetaStore.ListParts(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), parts)
			})
		},
	}
}

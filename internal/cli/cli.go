// Package cli provides facetctl, the operator command line of the facet
// index service.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/utafrali/facetindex/internal/config"
	"github.com/utafrali/facetindex/internal/domain"
	"github.com/utafrali/facetindex/internal/service"
	"github.com/utafrali/facetindex/pkg/logger"
)

// envPrefix is the prefix of facetctl environment variables.
const envPrefix = "FACETCTL"

// flagEnv maps persistent flags to the service environment variables they
// override.
var flagEnv = map[string]string{
	"postgres-host":  "POSTGRES_HOST",
	"postgres-port":  "POSTGRES_PORT",
	"postgres-user":  "POSTGRES_USER",
	"postgres-db":    "FACETINDEX_DB_NAME",
	"redis-host":     "REDIS_HOST",
	"cache-backend":  "FACETINDEX_CACHE_BACKEND",
	"pricing-url":    "PRICING_SERVICE_URL",
	"secret":         "FACETINDEX_SECRET",
	"log-level":      "LOG_LEVEL",
	"page-size":      "PRICE_INDEX_PAGE_SIZE",
	"default-shop":   "FACETINDEX_DEFAULT_SHOP_ID",
	"template-limit": "FACETINDEX_AUTO_TEMPLATE_THRESHOLD",
	"index-limit":    "FACETINDEX_AUTO_INDEX_THRESHOLD",
}

type commands struct {
	v       *viper.Viper
	connect Connector
	cfg     *config.Config
	logger  *slog.Logger
}

// NewRootCommand builds the facetctl command tree. connect opens the
// backend for commands that need one.
func NewRootCommand(connect Connector) *cobra.Command {
	rt := &commands{v: viper.New(), connect: connect}

	root := &cobra.Command{
		Use:           "facetctl",
		Short:         "Operate the facet index: reindex prices and attributes, resolve templates, manage the cache",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return rt.load(cmd.ErrOrStderr())
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "config file (yaml, json or toml)")
	flags.String("log-level", "", "log level")
	flags.String("postgres-host", "", "PostgreSQL host")
	flags.Int("postgres-port", 0, "PostgreSQL port")
	flags.String("postgres-user", "", "PostgreSQL user")
	flags.String("postgres-db", "", "PostgreSQL database")
	flags.String("redis-host", "", "Redis host")
	flags.String("cache-backend", "", "result cache backend: postgres|redis|memory")
	flags.String("pricing-url", "", "pricing service base URL")
	flags.String("secret", "", "index trigger secret")
	flags.Int("page-size", 0, "products per price index page")
	flags.Int64("default-shop", 0, "default shop id")
	flags.Int("template-limit", 0, "catalog size below which bootstrap generates a template")
	flags.Int("index-limit", 0, "catalog size below which bootstrap builds the indexes")
	_ = rt.v.BindPFlags(flags)
	rt.v.SetEnvPrefix(envPrefix)
	rt.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	rt.v.AutomaticEnv()

	root.AddCommand(
		rt.reindexPricesCommand(),
		rt.reindexProductCommand(),
		rt.resolveCommand(),
		rt.flattenCommand(),
		rt.invalidateCommand(),
		rt.bootstrapCommand(),
		rt.tokenCommand(),
	)
	return root
}

// Execute runs facetctl against the real backend.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root := NewRootCommand(Connect)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

// load reads the optional config file and turns every set key into a
// config override.
func (rt *commands) load(stderr io.Writer) error {
	if file := rt.v.GetString("config"); file != "" {
		rt.v.SetConfigFile(file)
		if err := rt.v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config file: %w", err)
		}
	}

	overrides := make(map[string]string)
	for key, env := range flagEnv {
		if !rt.v.IsSet(key) {
			continue
		}
		if val := rt.v.GetString(key); val != "" && val != "0" {
			overrides[env] = val
		}
	}

	cfg, err := config.LoadWithOverrides(overrides)
	if err != nil {
		return err
	}
	rt.cfg = cfg
	rt.logger = logger.NewWithWriter("facetctl", cfg.LogLevel, stderr)
	return nil
}

// withBackend opens the backend for the duration of fn.
func (rt *commands) withBackend(cmd *cobra.Command, fn func(ctx context.Context, b Backend) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	b, closeFn, err := rt.connect(ctx, rt.cfg, rt.logger)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}
	return fn(ctx, b)
}

func (rt *commands) reindexPricesCommand() *cobra.Command {
	var (
		full   bool
		smart  bool
		cursor int64
		budget time.Duration
	)
	cmd := &cobra.Command{
		Use:   "reindex-prices",
		Short: "Build the price index, chunk by chunk, until every product is visited",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cursor < 0 {
				return fmt.Errorf("--cursor must be >= 0")
			}
			job := domain.PriceIndexJob{
				Mode:        domain.IndexModeIncremental,
				Cursor:      cursor,
				Smart:       smart,
				Interactive: true,
				Budget:      budget,
			}
			if full {
				job.Mode = domain.IndexModeFull
			}
			out := cmd.OutOrStdout()

			return rt.withBackend(cmd, func(ctx context.Context, b Backend) error {
				processed := 0
				for {
					res, err := b.RunPriceIndex(ctx, job)
					if err != nil {
						return err
					}
					processed += res.Processed
					if res.Done {
						fmt.Fprintf(out, "done: %d products indexed\n", processed)
						return nil
					}
					fmt.Fprintf(out, "cursor %d: %d/%d products\n", res.Cursor, processed, res.Count)
					job.Cursor = res.Cursor
				}
			})
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "visit every eligible product instead of missing ones")
	cmd.Flags().BoolVar(&smart, "smart", false, "keep existing rows during a full run")
	cmd.Flags().Int64Var(&cursor, "cursor", 0, "product id to resume after")
	cmd.Flags().DurationVar(&budget, "budget", 0, "time budget per chunk (default: service budget)")
	return cmd
}

func (rt *commands) reindexProductCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex-product <id>",
		Short: "Recompute the price rows of one product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return rt.withBackend(cmd, func(ctx context.Context, b Backend) error {
				if err := b.ReindexProduct(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "product %d reindexed\n", id)
				return nil
			})
		},
	}
}

func (rt *commands) resolveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve",
		Short: "Rebuild the layered category table from the filter templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return rt.withBackend(cmd, func(ctx context.Context, b Backend) error {
				if err := b.Resolve(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "ok")
				return nil
			})
		},
	}
}

func (rt *commands) flattenCommand() *cobra.Command {
	var product int64
	cmd := &cobra.Command{
		Use:   "flatten",
		Short: "Rebuild the flat product attribute table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var productID *int64
			if cmd.Flags().Changed("product") {
				if product <= 0 {
					return fmt.Errorf("--product must be positive")
				}
				productID = &product
			}
			return rt.withBackend(cmd, func(ctx context.Context, b Backend) error {
				rows, err := b.Flatten(ctx, productID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d rows\n", rows)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&product, "product", 0, "only rebuild this product")
	return cmd
}

func (rt *commands) invalidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate",
		Short: "Drop every cached facet block",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return rt.withBackend(cmd, func(ctx context.Context, b Backend) error {
				if err := b.Invalidate(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "ok")
				return nil
			})
		},
	}
}

func (rt *commands) bootstrapCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Generate a template and build the indexes of a small catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return rt.withBackend(cmd, func(ctx context.Context, b Backend) error {
				res, err := b.Bootstrap(ctx)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			})
		},
	}
}

func (rt *commands) tokenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Print the index trigger token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), service.NewTriggerToken(rt.cfg.IndexSecret).String())
			return nil
		},
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

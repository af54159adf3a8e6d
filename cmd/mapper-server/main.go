package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/mapper/internal/config"
	"github.com/ehr/mapper/internal/domain/mapping"
	"github.com/ehr/mapper/internal/domain/profile"
	"github.com/ehr/mapper/internal/domain/terminology"
	"github.com/ehr/mapper/internal/domain/transform"
	"github.com/ehr/mapper/internal/platform/db"
	"github.com/ehr/mapper/migrations"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mapper-server",
		Short: "Legacy-to-FHIR field mapping server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(profileCmd())
	rootCmd.AddCommand(mapCmd())
	return rootCmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the mapping API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrationsFS(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func openPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if !cfg.UsesDatabase() {
		return nil, errors.New("DATABASE_URL is required")
	}
	return db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			logger := zerolog.New(cmd.ErrOrStderr()).With().Timestamp().Logger()
			migrator := db.NewMigrator(pool, migrationsFS(dir), db.WithSchema(schema), db.WithLogger(logger))
			fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", schema)

			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "public", "Target schema for migrations")
	upCmd.Flags().String("dir", "", "Path to migrations directory (defaults to the embedded set)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, migrationsFS(dir), db.WithSchema(schema))
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Migration status for schema: %s\n", schema)
			fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("schema", "public", "Target schema for migrations")
	statusCmd.Flags().String("dir", "", "Path to migrations directory (defaults to the embedded set)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func profileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage mapping profiles",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "publish <file>",
		Short: "Publish a YAML profile as the active version for its source system",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := profile.LoadFile(args[0])
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := profile.NewProfileRepoPG(pool).Publish(ctx, p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Published %s version %s (%d fields).\n", p.SourceSystem, p.Version, len(p.FieldRules))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <sourceSystem>",
		Short: "Print the active profile for a source system as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			p, err := profile.NewProfileRepoPG(pool).GetActive(ctx, args[0])
			if err != nil {
				return err
			}
			data, err := profile.EncodeYAML(p)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	})

	return cmd
}

func mapCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "map",
		Short: "Map one input file with a profile file and print the result as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			profilePath, _ := cmd.Flags().GetString("profile")
			inputPath, _ := cmd.Flags().GetString("input")
			format, _ := cmd.Flags().GetString("format")
			if profilePath == "" || inputPath == "" {
				return errors.New("--profile and --input are required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := zerolog.New(cmd.ErrOrStderr()).With().Timestamp().Logger().Level(zerolog.WarnLevel)
			return runMap(cmd.Context(), cmd.OutOrStdout(), cfg, logger, profilePath, inputPath, format)
		},
	}
	cmd.Flags().String("profile", "", "Path to a YAML mapping profile")
	cmd.Flags().String("input", "", "Path to a JSON, CSV or HL7 v2 input file")
	cmd.Flags().String("format", "", "Input format: json, csv or hl7v2 (defaults to the file extension)")
	return cmd
}

// runMap executes one mapping offline: profiles live in memory, audit
// records are only returned in the result and terminology is limited to
// the embedded table.
func runMap(ctx context.Context, out io.Writer, cfg *config.Config, logger zerolog.Logger, profilePath, inputPath, format string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	p, err := profile.LoadFile(profilePath)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	if format == "" {
		format = mapping.FormatFromPath(inputPath, data)
	}
	in, err := mapping.DecodeInput(format, data)
	if err != nil {
		return err
	}

	transforms := transform.NewRegistry()
	resolver := terminology.NewResolver(terminology.DefaultConceptTable(), logger, terminology.WithTimeout(cfg.TerminologyTimeout()))
	suggester, err := newSuggester(cfg, transforms, logger)
	if err != nil {
		return err
	}
	engine := mapping.NewEngine(transforms, resolver, suggester, engineOptions(cfg), logger)

	store := profile.NewStore(profile.NewMemoryRepository(), cfg.CacheTTL(), logger)
	if err := store.Publish(ctx, p); err != nil {
		return err
	}
	svc := mapping.NewService(store, engine, nil, logger)

	runCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout()+time.Second)
	defer cancel()
	res, err := svc.ExecuteMapping(runCtx, in, p.SourceSystem, "")
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

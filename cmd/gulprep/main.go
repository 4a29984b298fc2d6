package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/gulprep/internal/config"
	"github.com/JonMunkholm/gulprep/internal/logging"
	"github.com/JonMunkholm/gulprep/internal/prep"
	"github.com/JonMunkholm/gulprep/internal/store"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		if msg := prep.FormatUserError(err); msg != "" {
			fmt.Fprintf(os.Stderr, "error: %v\n%s\n", err, msg)
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

// app holds what every subcommand needs after startup.
type app struct {
	cfg *config.Config
}

func newRootCommand() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:           "gulprep",
		Short:         "Prepare ground-up loss input files from exposure and keys tables",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}

	cmd.AddCommand(newBuildCommand(a))
	cmd.AddCommand(newServeCommand(a))
	return cmd
}

// setup loads .env, configuration and logging. Overload lets a local .env
// win over inherited variables.
func (a *app) setup() error {
	envLoaded := godotenv.Overload() == nil

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	if envLoaded {
		slog.Debug("loaded .env file")
	}
	slog.Debug("configuration loaded", "config", cfg.String())

	a.cfg = cfg
	return nil
}

// openArchive connects to Postgres when DATABASE_URL is set. The returned
// close func is always safe to call.
func (a *app) openArchive(ctx context.Context) (*store.Store, func(), error) {
	if !a.cfg.Database.Enabled() {
		return nil, func() {}, nil
	}

	pool, err := store.Connect(ctx, a.cfg.Database)
	if err != nil {
		return nil, func() {}, err
	}
	logDatabase(pool)

	st := store.New(pool)
	if err := st.Migrate(ctx); err != nil {
		pool.Close()
		return nil, func() {}, fmt.Errorf("migrate archive schema: %w", err)
	}
	return st, pool.Close, nil
}

func logDatabase(pool *pgxpool.Pool) {
	cc := pool.Config().ConnConfig
	slog.Info("connected to database", "host", cc.Host, "name", cc.Database)
}

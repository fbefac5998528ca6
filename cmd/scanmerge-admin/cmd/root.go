package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openctemio/scanmerge/internal/config"
	"github.com/openctemio/scanmerge/internal/infra/postgres"
	"github.com/openctemio/scanmerge/pkg/logger"
)

var (
	version string

	// Global flags
	flagConfig string
	flagOutput string
)

var rootCmd = &cobra.Command{
	Use:   "scanmerge-admin",
	Short: "scanmerge administration CLI",
	Long: `scanmerge-admin manages scanmerge workspaces and rules directly against
the database.

It reads the same environment variables as the server. An optional YAML
file ($HOME/.scanmerge/admin.yaml or ./admin.yaml) and SCANMERGE_* variables
override them, for example SCANMERGE_DATABASE_HOST or database.host.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Interrupts cancel the command context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// SetVersion sets the CLI version from build flags.
func SetVersion(v string) {
	version = v
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file (default is $HOME/.scanmerge/admin.yaml)")
	rootCmd.PersistentFlags().StringVarP(&flagOutput, "output", "o", "table", "Output format: table, json, yaml")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error), overrides LOG_LEVEL")

	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(workspaceCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(notifyCmd)
}

// env is what a command needs to talk to the store.
type env struct {
	cfg   *config.Config
	log   *logger.Logger
	db    *postgres.DB
	store *postgres.Store
}

func (e *env) Close() {
	if e.db != nil {
		if err := e.db.Close(); err != nil {
			e.log.Warn("failed to close database", "error", err)
		}
	}
}

// loadEnv reads configuration and builds a logger writing to stderr.
func loadEnv() (*env, error) {
	cfg, err := loadConfig(viper.GetViper(), flagConfig)
	if err != nil {
		return nil, err
	}
	log := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: "text",
		Output: os.Stderr,
	})
	return &env{cfg: cfg, log: log}, nil
}

// openEnv is loadEnv plus a database connection.
func openEnv(ctx context.Context) (*env, error) {
	e, err := loadEnv()
	if err != nil {
		return nil, err
	}
	db, err := postgres.New(&e.cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	e.db = db
	e.store = postgres.NewStore(db)
	return e, nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("scanmerge-admin version %s\n", version)
		fmt.Printf("  Go:       %s\n", runtime.Version())
		fmt.Printf("  OS/Arch:  %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

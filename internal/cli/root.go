// Package cli wires configuration, storage and the engines into cobra
// commands.
package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/buildtall-systems/denimtrack/internal/allocation"
	"github.com/buildtall-systems/denimtrack/internal/config"
	"github.com/buildtall-systems/denimtrack/internal/db"
	"github.com/buildtall-systems/denimtrack/internal/lifecycle"
	"github.com/buildtall-systems/denimtrack/internal/logging"
	"github.com/buildtall-systems/denimtrack/internal/production"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "denimtrack",
	Short: "Garment unit allocation and lifecycle tracking",
	Long: `denimtrack allocates stock and production units to jean orders and tracks
every unit from the production floor through wash, QC and shipping.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./denimtrack.yaml)")
	rootCmd.PersistentFlags().String("db", "", "database path")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("database.path", rootCmd.PersistentFlags().Lookup("db"))
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("denimtrack")
	}

	config.SetDefaults(viper.GetViper())
	viper.SetEnvPrefix("DENIMTRACK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// A missing config file is fine; defaults and env apply.
	_ = viper.ReadInConfig()
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// app is everything a command needs once config is loaded.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	db         *db.DB
	production *production.Manager
	allocation *allocation.Engine
	lifecycle  *lifecycle.Engine
}

// openApp loads config, opens and migrates the database and builds the
// engines. Callers must call close.
func openApp() (*app, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := database.Migrate(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("database ready", zap.String("path", cfg.Database.Path))

	pm := production.NewManager(database, logger.Named("production"))
	return &app{
		cfg:        cfg,
		logger:     logger,
		db:         database,
		production: pm,
		allocation: allocation.NewEngine(database, pm, allocation.Config{
			MaxRetries: cfg.Allocation.MaxRetries,
			Backoff:    cfg.Allocation.RetryBackoff,
		}, logger.Named("allocation")),
		lifecycle: lifecycle.NewEngine(database, logger.Named("lifecycle")),
	}, nil
}

func (a *app) close() {
	_ = a.db.Close()
	_ = a.logger.Sync()
}

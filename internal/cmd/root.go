// Package cmd provides the CLI commands for Vigil.
package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/gorm"

	"github.com/vigilguard/vigil/internal/config"
	"github.com/vigilguard/vigil/internal/database"
	"github.com/vigilguard/vigil/internal/logger"
	"github.com/vigilguard/vigil/internal/services"
	"github.com/vigilguard/vigil/internal/version"
)

// ErrDenied marks a verdict that should surface as exit code 1: the request
// was evaluated and refused. It is not a failure of the engine itself.
var ErrDenied = errors.New("denied")

var (
	debug bool

	cfg      config.Config
	db       *gorm.DB
	registry *services.Registry
)

var rootCmd = &cobra.Command{
	Use:   "vigil",
	Short: "Vigil - traffic abuse policy engine",
	Long: `Vigil protects shared resources against traffic abuse: per-client
rate limiting, volumetric DDoS detection and longer-horizon abuse
detection, combined with automatic, escalating, time-bounded blocking.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		out := io.Writer(os.Stdout)
		if err := os.MkdirAll(cfg.LogDir, 0o755); err == nil {
			rotator := &lumberjack.Logger{
				Filename:   filepath.Join(cfg.LogDir, "vigil.log"),
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     28, // days
				Compress:   true,
			}
			out = io.MultiWriter(os.Stdout, rotator)
		}
		logger.Init(cfg.Debug || debug, out)

		db, err = database.Open(cfg.DatabasePath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}

		registry = services.NewRegistry(cfg, db)
		return nil
	},
}

// Execute runs the CLI and maps the outcome onto the process exit status:
// 0 for an allowed/normal verdict, 1 for a denied verdict, 2 for any
// failure.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, ErrDenied) {
			return 1
		}
		fmt.Fprintf(os.Stderr, "vigil: %v\n", err)
		return 2
	}
	return 0
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("%s %s\n", version.Name, version.Full())
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.AddCommand(versionCmd)
}

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"booksearch/config"
	"booksearch/internal/logging"
)

var (
	cfgFile  string
	cfg      *config.Config
	rootDir  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "booksearch",
	Short: "Hybrid dense + sparse book retrieval",
	Long: `booksearch indexes a book catalogue and answers queries by fusing an
embedding (dense) ranking with a BM25 (sparse) ranking.

Example usage:
  booksearch index ./catalogue          # Index catalogue files
  booksearch query -q "desert planet"   # Retrieve the best matching books
  booksearch serve --addr :8080         # Serve POST /v1/retrieve`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error

		if rootDir == "" {
			rootDir, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to get working directory: %w", err)
			}
		}

		if cfgFile != "" {
			cfg, err = config.Load(cfgFile)
		} else {
			cfg, err = config.LoadFromDir(rootDir)
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		logCfg := logging.DefaultConfig()
		logCfg.Level = cfg.Logging.Level
		if cfg.Logging.Format != "" {
			logCfg.Format = cfg.Logging.Format
		}
		if logLevel != "" {
			if !logging.ValidLevel(logLevel) {
				return fmt.Errorf("invalid log level %q", logLevel)
			}
			logCfg.Level = logLevel
		}
		logging.Init(logCfg)

		return nil
	},
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./booksearch.yaml)")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "dir", "d", "", "directory holding the .booksearch index (default is current directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
}

func GetConfig() *config.Config {
	return cfg
}

func GetRootDir() string {
	return rootDir
}

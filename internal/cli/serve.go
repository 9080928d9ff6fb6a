package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"booksearch/internal/domain"
	"booksearch/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve retrieval over HTTP",
	Long: `Serve the index over HTTP.

Endpoints:
  POST /v1/retrieve  {"query": "...", "dense_top_k": 50, "sparse_top_k": 50, "top_k": 20, "top_n": 10}
                     streams one {"book_id", "score"} JSON object per line
  GET  /healthz
  GET  /metrics      Prometheus metrics`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	ix, err := OpenIndex(cfg, GetRootDir())
	if err != nil {
		return err
	}
	defer ix.Close()

	engine, err := ix.Engine(cfg)
	if err != nil {
		return err
	}

	srvCfg := cfg.Server
	if serveAddr != "" {
		srvCfg.Addr = serveAddr
	}

	health := func(context.Context) error {
		stats, err := ix.Store.GetStats()
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrIndexUnavailable, err)
		}
		if stats.TotalBooks == 0 {
			return fmt.Errorf("%w: index is empty", domain.ErrIndexUnavailable)
		}
		return nil
	}

	return server.New(engine, health, srvCfg, cfg.Retrieve).ListenAndServe(cmd.Context())
}

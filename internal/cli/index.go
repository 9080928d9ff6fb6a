package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"booksearch/config"
	"booksearch/internal/adapter/fs"
	"booksearch/internal/adapter/store"
	"booksearch/internal/usecase"
)

var indexRebuild bool

var indexCmd = &cobra.Command{
	Use:   "index [catalogue-dir]",
	Short: "Index a book catalogue for retrieval",
	Long: `Index the catalogue files (*.jsonl, *.json) under the given directory.
Each record needs at least an "id" and a "title". Books are tokenized for BM25
and embedded for dense search. The index is stored in .booksearch/index.db
under --dir.

Examples:
  booksearch index ./catalogue
  booksearch index ./catalogue --rebuild`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.Flags().BoolVar(&indexRebuild, "rebuild", false, "discard the existing index first")
}

func runIndex(cmd *cobra.Command, args []string) error {
	path := GetRootDir()
	if len(args) > 0 {
		var err error
		path, err = filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("invalid path: %w", err)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("path does not exist: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	cfg := GetConfig()
	indexDir := GetRootDir()

	if err := config.EnsureDataDir(indexDir); err != nil {
		return fmt.Errorf("failed to create .booksearch directory: %w", err)
	}

	dbPath := config.IndexDBPath(indexDir)
	st, err := store.NewBoltStore(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open index store: %w", err)
	}
	defer st.Close()

	hash := cfg.IndexHash()
	migration, err := st.CheckMigration(hash)
	if err != nil {
		return fmt.Errorf("failed to check migration: %w", err)
	}

	switch {
	case migration.NeedsRebuild || indexRebuild:
		reason := "requested with --rebuild"
		if migration.NeedsRebuild {
			reason = migration.Reason
		}
		fmt.Printf("Index rebuild required: %s\n", reason)
		fmt.Println("Clearing existing index...")
		if err := st.Clear(); err != nil {
			return fmt.Errorf("failed to clear index: %w", err)
		}
	case migration.NeedsMigration:
		fmt.Printf("Running schema migration: %s\n", migration.Reason)
	}

	// Vectors are loaded after any Clear so the in-memory copy starts empty.
	ix, err := attachIndex(cfg, st)
	if err != nil {
		return err
	}

	walker := fs.NewWalker(cfg.Index.Includes, cfg.Index.Excludes)
	indexUC := usecase.NewIndexUseCase(ix.Store, walker, ix.Tokenizer).
		WithEmbeddings(ix.Embedder, ix.Vectors, cfg.Embedding.BatchSize)

	fmt.Printf("Scanning %s...\n", path)

	var (
		bar         *progressbar.ProgressBar
		barMu       sync.Mutex
		startTime   time.Time
		initialized bool
	)

	progressCallback := func(processed, total int, currentFile string) {
		barMu.Lock()
		defer barMu.Unlock()

		if !initialized {
			startTime = time.Now()
			bar = progressbar.NewOptions(total,
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionShowBytes(false),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionSetDescription("[cyan]Indexing[reset]"),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "[green]=[reset]",
					SaucerHead:    "[green]>[reset]",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
				progressbar.OptionOnCompletion(func() {
					fmt.Println()
				}),
			)
			initialized = true
		}

		bar.Set(processed)

		if processed > 0 {
			elapsed := time.Since(startTime)
			rate := float64(processed) / elapsed.Seconds()
			remaining := total - processed
			if rate > 0 {
				eta := time.Duration(float64(remaining)/rate) * time.Second
				bar.Describe(fmt.Sprintf("[cyan]Indexing[reset] ETA: %s", formatDuration(eta)))
			}
		}
	}

	result, err := indexUC.Index(cmd.Context(), path, progressCallback)
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}

	if err := st.Migrate(hash); err != nil {
		return fmt.Errorf("failed to update schema info: %w", err)
	}

	fmt.Printf("\nIndexing complete:\n")
	fmt.Printf("  Files indexed:  %d\n", result.FilesIndexed)
	fmt.Printf("  Files skipped:  %d (unchanged)\n", result.FilesSkipped)
	fmt.Printf("  Files deleted:  %d (removed)\n", result.FilesDeleted)
	fmt.Printf("  Books indexed:  %d\n", result.BooksIndexed)
	fmt.Printf("  Embeddings:     %d (%s)\n", result.BooksEmbedded, ix.Embedder.ModelName())
	fmt.Printf("  Total books:    %d\n", result.TotalBooks)

	if len(result.Errors) > 0 {
		fmt.Printf("\nWarnings:\n")
		for _, e := range result.Errors {
			fmt.Printf("  - %s\n", e)
		}
	}

	fmt.Printf("\nIndex stored at: %s\n", dbPath)
	return nil
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}

package cli

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"booksearch/internal/domain"
	"booksearch/internal/usecase"
)

var (
	queryText       string
	queryDenseTopK  int
	querySparseTopK int
	queryTopK       int
	queryTopN       int
	queryJSON       bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Retrieve the best matching books",
	Long: `Run a hybrid retrieval: dense (embedding) and sparse (BM25) candidates are
generated concurrently, normalized, fused and the top-n books are printed.

Examples:
  booksearch query -q "desert planet"
  booksearch query -q "hobbits and dragons" --top-n 5 --json`,
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().StringVarP(&queryText, "query", "q", "", "search query (required)")
	queryCmd.Flags().IntVar(&queryDenseTopK, "dense-top-k", 0, "dense candidates to generate (default from config)")
	queryCmd.Flags().IntVar(&querySparseTopK, "sparse-top-k", 0, "sparse candidates to generate (default from config)")
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "length of the fused ranking (default from config)")
	queryCmd.Flags().IntVarP(&queryTopN, "top-n", "n", 0, "results to print (default from config)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output as JSON")
	queryCmd.MarkFlagRequired("query")
}

// requestFromFlags overlays the set flags on the configured defaults.
func requestFromFlags(cmd *cobra.Command, query string) domain.RetrieveRequest {
	d := GetConfig().Retrieve
	req := domain.RetrieveRequest{
		Query:      query,
		DenseTopK:  d.DenseTopK,
		SparseTopK: d.SparseTopK,
		TopK:       d.TopK,
		TopN:       d.TopN,
	}
	flags := cmd.Flags()
	if flags.Changed("dense-top-k") {
		req.DenseTopK = queryDenseTopK
	}
	if flags.Changed("sparse-top-k") {
		req.SparseTopK = querySparseTopK
	}
	if flags.Changed("top-k") {
		req.TopK = queryTopK
	}
	if flags.Changed("top-n") {
		req.TopN = queryTopN
	}
	return req
}

func runQuery(cmd *cobra.Command, args []string) error {
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

	stream, err := engine.Retrieve(cmd.Context(), requestFromFlags(cmd, queryText))
	if err != nil {
		return fmt.Errorf("retrieve failed: %w", err)
	}
	resp, err := stream.Collect()
	if err != nil {
		return fmt.Errorf("retrieve failed: %w", err)
	}

	hits, err := usecase.Hydrate(ix.Store, resp)
	if err != nil {
		return err
	}

	if queryJSON {
		output, _ := json.MarshalIndent(hits, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	if len(hits) == 0 {
		fmt.Println("No results found.")
		return nil
	}
	fmt.Printf("Found %d results for: %s\n\n", len(hits), queryText)
	for _, h := range hits {
		title := h.Title
		if title == "" {
			title = "(removed from catalogue)"
		}
		fmt.Printf("%2d. [%.4f] %s  (%s)\n", h.Rank, h.Score, title, h.BookID)
		if len(h.Authors) > 0 {
			fmt.Printf("    by %s\n", strings.Join(h.Authors, ", "))
		}
	}

	return nil
}

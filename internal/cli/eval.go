package cli

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"booksearch/internal/usecase"
)

var (
	evalFile string
	evalJSON bool
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Score retrieval quality against relevance judgments",
	Long: `Run every query of a judgments file and report precision, recall,
reciprocal rank and NDCG of the top-n results.

The judgments file holds one JSON object per line:
  {"query": "desert planet", "relevant": ["dune-1", "dune-2"]}

Retrieval sizes come from config and the query command's flags.

Examples:
  booksearch eval -f judgments.jsonl
  booksearch eval -f judgments.jsonl --top-n 5 --json`,
	RunE: runEval,
}

func init() {
	rootCmd.AddCommand(evalCmd)
	evalCmd.Flags().StringVarP(&evalFile, "file", "f", "", "judgments file (required)")
	evalCmd.Flags().BoolVar(&evalJSON, "json", false, "output as JSON")
	evalCmd.Flags().IntVar(&queryDenseTopK, "dense-top-k", 0, "dense candidates to generate (default from config)")
	evalCmd.Flags().IntVar(&querySparseTopK, "sparse-top-k", 0, "sparse candidates to generate (default from config)")
	evalCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "length of the fused ranking (default from config)")
	evalCmd.Flags().IntVarP(&queryTopN, "top-n", "n", 0, "results to score (default from config)")
	evalCmd.MarkFlagRequired("file")
}

func runEval(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	f, err := os.Open(evalFile)
	if err != nil {
		return err
	}
	defer f.Close()

	judgments, err := usecase.ReadJudgments(f)
	if err != nil {
		return fmt.Errorf("failed to read judgments: %w", err)
	}

	ix, err := OpenIndex(cfg, GetRootDir())
	if err != nil {
		return err
	}
	defer ix.Close()

	engine, err := ix.Engine(cfg)
	if err != nil {
		return err
	}

	base := requestFromFlags(cmd, "")
	report, err := usecase.Evaluate(cmd.Context(), engine, judgments, base)
	if err != nil {
		return err
	}

	if evalJSON {
		output, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Printf("%-40s %6s %6s %6s %6s\n", "QUERY", "P@N", "R@N", "RR", "NDCG")
	for _, q := range report.Queries {
		fmt.Printf("%-40s %6.3f %6.3f %6.3f %6.3f\n", truncate(q.Query, 40), q.Precision, q.Recall, q.RR, q.NDCG)
	}
	fmt.Printf("\n%-40s %6.3f %6.3f %6.3f %6.3f\n", fmt.Sprintf("MEAN (%d queries, top-n %d)", len(report.Queries), base.TopN),
		report.Precision, report.Recall, report.MRR, report.NDCG)
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"booksearch/config"
	"booksearch/internal/adapter/retriever"
	"booksearch/internal/cli"
	"booksearch/internal/domain"
	"booksearch/internal/port"
)

func main() {
	indexPath := flag.String("index", ".", "Directory holding the .booksearch index")
	query := flag.String("q", "", "Query to test")
	topK := flag.Int("k", 10, "Number of results")
	runs := flag.Int("runs", 20, "Repetitions for latency measurement")
	flag.Parse()
	*runs = max(*runs, 1)

	if *query == "" {
		fmt.Println("Usage: go run cmd/benchmark/main.go -index ./catalogue -q \"query\"")
		fmt.Println("\nCompares:")
		fmt.Println("  1. Dense only (embedding cosine)")
		fmt.Println("  2. Sparse only (BM25)")
		fmt.Println("  3. Hybrid (fused)")
		os.Exit(1)
	}

	cfg, err := config.LoadFromDir(*indexPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	ix, err := cli.OpenIndex(cfg, *indexPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening index: %v\n", err)
		os.Exit(1)
	}
	defer ix.Close()

	engine, err := ix.Engine(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building engine: %v\n", err)
		os.Exit(1)
	}
	dense, sparse := ix.Generators(cfg)

	ctx := context.Background()
	req := domain.RetrieveRequest{
		Query:      *query,
		DenseTopK:  cfg.Retrieve.DenseTopK,
		SparseTopK: cfg.Retrieve.SparseTopK,
		TopK:       max(*topK, cfg.Retrieve.TopK),
		TopN:       *topK,
	}

	count, _ := ix.Vectors.Count()
	stats, _ := ix.Store.GetStats()

	fmt.Println("HYBRID RETRIEVAL BENCHMARK")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("Books indexed:  %d (avg %.1f tokens)\n", stats.TotalBooks, stats.AvgBookLen)
	fmt.Printf("Embeddings:     %d (%s, %d dims)\n", count, ix.Embedder.ModelName(), ix.Embedder.Dimension())
	fmt.Printf("Fusion:         %s (dense %.2f / sparse %.2f)\n", cfg.Fusion.Method, cfg.Fusion.DenseWeight, cfg.Fusion.SparseWeight)
	fmt.Printf("Query:          %q\n", *query)
	fmt.Println()

	denseIDs, denseLat := single(ctx, dense, *query, req.DenseTopK, *topK, *runs)
	sparseIDs, sparseLat := single(ctx, sparse, *query, req.SparseTopK, *topK, *runs)

	var hybridIDs []string
	var hybridLat time.Duration
	for i := 0; i < *runs; i++ {
		start := time.Now()
		stream, err := engine.Retrieve(ctx, req)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Hybrid retrieve error: %v\n", err)
			os.Exit(1)
		}
		resp, err := stream.Collect()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Hybrid retrieve error: %v\n", err)
			os.Exit(1)
		}
		hybridLat += time.Since(start)
		hybridIDs = resp.BookIDs
	}
	hybridLat /= time.Duration(*runs)

	printRanking(ix.Store, "DENSE", denseIDs, denseLat)
	printRanking(ix.Store, "SPARSE", sparseIDs, sparseLat)
	printRanking(ix.Store, "HYBRID", hybridIDs, hybridLat)

	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("OVERLAP (top %d):\n", *topK)
	fmt.Printf("  dense  ∩ hybrid: %d\n", overlap(denseIDs, hybridIDs))
	fmt.Printf("  sparse ∩ hybrid: %d\n", overlap(sparseIDs, hybridIDs))
	fmt.Printf("  dense  ∩ sparse: %d\n", overlap(denseIDs, sparseIDs))
	fmt.Println("\nNote: hybrid timings after the first run may be served from the query cache.")
}

// single ranks with one generator alone, normalized the same way the engine does.
func single(ctx context.Context, gen port.CandidateGenerator, query string, k, n, runs int) ([]string, time.Duration) {
	var (
		ids   []string
		total time.Duration
	)
	for i := 0; i < runs; i++ {
		start := time.Now()
		cands, err := gen.Generate(ctx, query, k)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s generator error: %v\n", gen.Source(), err)
			return nil, 0
		}
		total += time.Since(start)

		var ranked []domain.FusedResult
		if gen.Source() == domain.SourceSparse {
			ranked = retriever.NewWeightedFuser(0, 1).Fuse(nil, retriever.MinMax(cands), n)
		} else {
			ranked = retriever.NewWeightedFuser(1, 0).Fuse(retriever.MinMax(cands), nil, n)
		}
		ids = ids[:0]
		for _, r := range ranked {
			ids = append(ids, r.BookID)
		}
	}
	return ids, total / time.Duration(runs)
}

func printRanking(st port.IndexStore, label string, ids []string, latency time.Duration) {
	fmt.Printf("%s (avg %v)\n", label, latency.Round(time.Microsecond))
	fmt.Println(strings.Repeat("-", 70))
	if len(ids) == 0 {
		fmt.Println("  no results")
	}
	for i, id := range ids {
		title := id
		if book, err := st.GetBook(id); err == nil {
			title = book.Title
		}
		fmt.Printf("  %2d. %s (%s)\n", i+1, title, id)
	}
	fmt.Println()
}

func overlap(a, b []string) int {
	set := make(map[string]bool, len(a))
	for _, id := range a {
		set[id] = true
	}
	n := 0
	for _, id := range b {
		if set[id] {
			n++
		}
	}
	return n
}

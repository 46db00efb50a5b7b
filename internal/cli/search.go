package cli

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	searchQuery string
	searchTopK  int
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Run a raw vector search and report match quality",
	Long: `Search the vector store directly, bypassing the router, and print the
matches with their distance, score and a quality summary. Useful to check
an embedding model against the documents.

Examples:
  campusbot search -q "osi model layers"
  campusbot search -q "normalization in dbms" -k 5`,
	Args: cobra.NoArgs,
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().StringVarP(&searchQuery, "query", "q", "", "search query (required)")
	searchCmd.Flags().IntVarP(&searchTopK, "top-k", "k", 0, "number of results (default from config)")
	searchCmd.MarkFlagRequired("query")
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	st := a.store.Stats()
	if st.Documents == 0 {
		return fmt.Errorf("no documents indexed. Run 'campusbot docs sync' first")
	}

	topK := a.cfg.Vector.TopK
	if searchTopK > 0 {
		topK = searchTopK
	}

	fmt.Println("VECTOR SEARCH")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("Documents indexed: %d\n", st.Documents)
	fmt.Printf("Model: %s (%s)\n", st.Model, a.cfg.Embedding.Provider)
	fmt.Printf("Metric: %s, dimension: %d\n", st.Metric, st.Dimension)
	fmt.Println()
	fmt.Printf("Query: \"%s\"\n", searchQuery)
	fmt.Println(strings.Repeat("-", 70))

	start := time.Now()
	results, err := a.store.Search(ctx, searchQuery, topK)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	elapsed := time.Since(start)

	fmt.Printf("Top %d matches (%s):\n\n", len(results), elapsed.Round(time.Microsecond))

	totalScore := 0.0
	for i, r := range results {
		preview := strings.Join(strings.Fields(r.Document.Text), " ")
		if len(preview) > 150 {
			preview = preview[:150] + "..."
		}

		totalScore += r.Score
		fmt.Printf("%d. [%s %.3f] %s (distance %.4f)\n", i+1, rating(r.Score), r.Score, filepath.Base(r.Document.ID), r.Distance)
		fmt.Printf("   %s\n\n", preview)
	}

	avgScore := totalScore / float64(len(results))
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("QUALITY METRICS:\n")
	fmt.Printf("  Average score: %.3f\n", avgScore)
	fmt.Printf("  Top-1 score:   %.3f\n", results[0].Score)
	if a.cfg.Vector.MinScore > 0 {
		fmt.Printf("  Router cutoff: %.3f\n", a.cfg.Vector.MinScore)
	}
	return nil
}

// rating buckets a higher-is-better score.
func rating(score float64) string {
	switch {
	case score > 0.7:
		return color.GreenString("HIGH")
	case score > 0.5:
		return color.CyanString("GOOD")
	case score > 0.3:
		return color.YellowString("OK")
	}
	return color.RedString("LOW")
}

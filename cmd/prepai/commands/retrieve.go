package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/prepai-go/internal/history"
	"github.com/54b3r/prepai-go/internal/logging"
	"github.com/54b3r/prepai-go/internal/rag"
)

// NewRetrieveCmd constructs the `prepai retrieve` command, which indexes the
// given sources and prints the chunks nearest to --query.
func NewRetrieveCmd() *cobra.Command {
	var sources sourceFlags
	var query string
	var topK int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "retrieve [sources...]",
		Short: "Retrieve the chunks of a document nearest to a query",
		Long: `Index a document and print the chunks nearest to a query, nearest first,
separated by blank lines.

--top-k defaults to RETRIEVE_TOP_K (6); --query defaults to RETRIEVE_QUERY.

Examples:
  prepai retrieve --query "kafka migration" resume.md
  prepai retrieve --top-k 3 --json --resume resume.md --job job.html`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			defTopK, defQuery, err := retrieveDefaults()
			if err != nil {
				return fmt.Errorf("retrieve: %w", err)
			}
			if !cmd.Flags().Changed("top-k") {
				topK = defTopK
			}
			if query == "" {
				query = defQuery
			}

			doc, source, err := loadDocument(ctx, sources, args)
			if err != nil {
				return fmt.Errorf("retrieve: %w", err)
			}

			stack, err := newIndexStack(ctx, log, nil)
			if err != nil {
				return fmt.Errorf("retrieve: %w", err)
			}
			defer stack.Close()

			hist, closeHist := openHistory(log)
			defer closeHist()

			rec := &history.Recorder{Indexer: stack.store, Log: hist, Source: source}
			if err := rec.BuildIndex(ctx, doc); err != nil {
				return fmt.Errorf("retrieve: %w", err)
			}

			results, err := stack.store.Search(ctx, query, topK)
			if err != nil {
				return fmt.Errorf("retrieve: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				if results == nil {
					results = []rag.Result{}
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}
			if text := rag.JoinResults(results); text != "" {
				fmt.Fprintln(out, text)
			}
			return nil
		},
	}

	addSourceFlags(cmd, &sources)
	cmd.Flags().StringVarP(&query, "query", "q", "", "Retrieval query")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of chunks to retrieve")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results with positions and distances as JSON")

	return cmd
}

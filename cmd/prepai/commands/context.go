package commands

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/prepai-go/internal/augment"
	"github.com/54b3r/prepai-go/internal/budget"
	"github.com/54b3r/prepai-go/internal/history"
	"github.com/54b3r/prepai-go/internal/logging"
)

// NewContextCmd constructs the `prepai context` command, which prints the
// retrieval-augmented context handed to an interview question generator.
func NewContextCmd() *cobra.Command {
	var sources sourceFlags
	var query string
	var topK int
	var maxTokens int
	var prompt bool
	var difficulty string
	var count int

	cmd := &cobra.Command{
		Use:   "context [sources...]",
		Short: "Print the retrieval-augmented context for question generation",
		Long: `Index a document, retrieve the sections most relevant to the topic query,
and print them ahead of the full document.

If embedding is unavailable the plain document is printed and a warning is
logged. --prompt prints the chat messages for project deep-dive questions
as JSON instead.

Examples:
  prepai context --resume resume.md --job job.txt
  prepai context --prompt --difficulty hard --count 5 --resume resume.md`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			defTopK, defQuery, err := retrieveDefaults()
			if err != nil {
				return fmt.Errorf("context: %w", err)
			}
			if !cmd.Flags().Changed("top-k") {
				topK = defTopK
			}
			if query == "" {
				query = defQuery
			}
			if topK <= 0 {
				return fmt.Errorf("context: --top-k must be positive, got %d", topK)
			}

			doc, source, err := loadDocument(ctx, sources, args)
			if err != nil {
				return fmt.Errorf("context: %w", err)
			}

			stack, err := newIndexStack(ctx, log, nil)
			if err != nil {
				return fmt.Errorf("context: %w", err)
			}
			defer stack.Close()

			hist, closeHist := openHistory(log)
			defer closeHist()

			b := &augment.Builder{
				Store:            &history.Recorder{Indexer: stack.store, Log: hist, Source: source},
				Query:            query,
				TopK:             topK,
				MaxContextTokens: maxTokens,
			}

			out := cmd.OutOrStdout()
			if prompt {
				msgs, err := b.Messages(ctx, doc, augment.QuestionRequest{Difficulty: difficulty, Count: count})
				if err != nil {
					return fmt.Errorf("context: %w", err)
				}
				log.Info("context: prompt assembled",
					slog.Int("messages", len(msgs)),
					slog.Int("estimated_tokens", budget.EstimateMessages(msgs)),
				)
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(msgs)
			}

			text, err := b.Build(ctx, doc)
			if err != nil {
				return fmt.Errorf("context: %w", err)
			}
			fmt.Fprintln(out, text)
			return nil
		},
	}

	addSourceFlags(cmd, &sources)
	cmd.Flags().StringVarP(&query, "query", "q", "", "Topic query (default RETRIEVE_QUERY or the built-in topic query)")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of sections to retrieve")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "Token budget for retrieved sections (default 6000)")
	cmd.Flags().BoolVar(&prompt, "prompt", false, "Print question-generation chat messages as JSON")
	cmd.Flags().StringVar(&difficulty, "difficulty", "medium", "Question difficulty for --prompt")
	cmd.Flags().IntVar(&count, "count", 4, "Number of questions for --prompt")

	return cmd
}

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/prepai-go/internal/history"
	"github.com/54b3r/prepai-go/internal/logging"
)

// addSourceFlags registers --resume and --job on cmd.
func addSourceFlags(cmd *cobra.Command, f *sourceFlags) {
	cmd.Flags().StringArrayVar(&f.resume, "resume", nil, "Resume file, glob, or URL (repeatable)")
	cmd.Flags().StringArrayVar(&f.job, "job", nil, "Job description file, glob, or URL (repeatable)")
}

// NewIndexCmd constructs the `prepai index` command, which chunks and embeds
// the given sources and reports the resulting index.
func NewIndexCmd() *cobra.Command {
	var sources sourceFlags
	var showChunks bool

	cmd := &cobra.Command{
		Use:   "index [sources...]",
		Short: "Chunk and embed a document and report the index",
		Long: `Build the retrieval index for a document and print its size.

Sources are file paths, doublestar globs (e.g. "notes/**/*.md"), or http(s)
URLs. --resume and --job label their sources so the document is laid out as
RESUME/JOB sections.

Examples:
  prepai index resume.md
  prepai index --resume cv.pdf.txt --job https://example.com/jobs/123
  CHUNK_SIZE=200 CHUNK_OVERLAP=40 prepai index --show-chunks resume.md`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			doc, source, err := loadDocument(ctx, sources, args)
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}

			stack, err := newIndexStack(ctx, log, nil)
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}
			defer stack.Close()

			hist, closeHist := openHistory(log)
			defer closeHist()

			rec := &history.Recorder{Indexer: stack.store, Log: hist, Source: source}
			stats, err := rec.Build(ctx, doc)
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "indexed %d chunks (dimension %d)\n", stats.Chunks, stats.Dimension)
			if showChunks {
				for i, c := range stack.store.Chunks() {
					fmt.Fprintf(out, "\n[%d] %s\n", i, c)
				}
			}
			return nil
		},
	}

	addSourceFlags(cmd, &sources)
	cmd.Flags().BoolVar(&showChunks, "show-chunks", false, "Print every chunk after indexing")

	return cmd
}

// Package commands defines all Cobra CLI commands for the prepai binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/prepai-go/internal/audit"
	"github.com/54b3r/prepai-go/internal/config"
	"github.com/54b3r/prepai-go/internal/logging"
)

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "prepai",
		Short: "prepai: retrieval-augmented context for interview preparation",
		Long: `prepai splits a resume and job description into overlapping word windows,
embeds them, and retrieves the sections most relevant to a topic query so a
question generator sees the strongest material first.

The embedding backend is selected via EMBEDDING_PROVIDER (hashing, ollama,
openai, azure, gemini) or a YAML config file (~/.prepai/config.yaml).
See 'prepai --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// The YAML file may set LOG_LEVEL, so build the final logger after it.
			path, err := config.Load(configPath, logging.New())
			if err != nil {
				return err
			}

			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)
			cmd.SetContext(ctx)

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(ctx, log, cmd.Name(), path)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.prepai/config.yaml)")

	root.AddCommand(
		NewIndexCmd(),
		NewRetrieveCmd(),
		NewContextCmd(),
		NewServeCmd(),
		NewHistoryCmd(),
		NewVersionCmd(),
	)

	return root
}

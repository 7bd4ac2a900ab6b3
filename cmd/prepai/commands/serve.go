package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/prepai-go/internal/config"
	"github.com/54b3r/prepai-go/internal/logging"
	"github.com/54b3r/prepai-go/internal/server"
)

// NewServeCmd constructs the `prepai serve` command, which starts the HTTP
// API around a single long-lived index.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the prepai HTTP API",
		Long: `Start the prepai HTTP API.

Routes:
  POST /api/index     {document, source?}        -> {chunks, dimension}
  POST /api/retrieve  {query, topK?}             -> {context, results}
  POST /api/context   {document, query?, topK?}  -> {context}
  GET  /api/history   ?limit=n                   -> {builds}
  GET  /api/health, GET /api/ready, GET /metrics

Set PREPAI_API_KEY to require "Authorization: Bearer <key>" on /api routes.

Examples:
  prepai serve
  prepai serve --port 9090
  EMBEDDING_PROVIDER=ollama INDEX_BACKEND=qdrant prepai serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.FromContext(ctx)

			if !cmd.Flags().Changed("host") {
				host = config.String("SERVER_HOST", host)
			}
			if !cmd.Flags().Changed("port") {
				p, err := config.Int("SERVER_PORT", port)
				if err != nil {
					return fmt.Errorf("serve: %w", err)
				}
				port = p
			}

			topK, query, err := retrieveDefaults()
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			stack, err := newIndexStack(ctx, log, prometheus.DefaultRegisterer)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer stack.Close()

			hist, closeHist := openHistory(log)
			defer closeHist()

			pingers := []server.Pinger{server.NewEmbedderPinger(stack.embedder, stack.backend)}
			if stack.qdrant != nil {
				pingers = append(pingers, server.NewQdrantPinger(stack.qdrant.Client()))
			}

			cfg := &server.Config{
				Host:    host,
				Port:    port,
				Logger:  log,
				Pingers: pingers,
				APIKey:  os.Getenv("PREPAI_API_KEY"),
				TopK:    topK,
				Query:   query,
				History: hist,
			}

			srv, err := server.New(stack.store, cfg)
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			log.Info("serve starting",
				slog.String("embedder", stack.backend),
				slog.Int("top_k", topK),
				slog.Bool("history", hist != nil),
			)
			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to (env SERVER_HOST)")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on (env SERVER_PORT)")

	return cmd
}

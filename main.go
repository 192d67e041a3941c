package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"code-query-agent/application"
	"code-query-agent/infrastructure/httpapi"
	"code-query-agent/infrastructure/schema"

	"github.com/spf13/cobra"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "code-query-agent",
		Short:         "Embed pre-chunked repositories and answer questions about them",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (default ./config.yaml if present)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), configPath, func(ctx context.Context, a *app) error {
				handler := httpapi.NewHandler(a.ingestion, a.queries, a.logger, httpapi.HandlerOptions{
					MetricsPath: a.metricsPath(),
					Agent:       a.agent,
				})
				srv := httpapi.NewServer(handler.Routes(),
					httpapi.WithLogger(a.logger),
					httpapi.WithConfig(httpapi.ServerConfig{
						Addr:            a.cfg.Server.Addr,
						ReadTimeout:     a.cfg.Server.ReadTimeout,
						WriteTimeout:    a.cfg.Server.WriteTimeout,
						ShutdownTimeout: a.cfg.Server.ShutdownTimeout,
					}))
				return srv.Run(ctx)
			})
		},
	}

	ingestCmd := &cobra.Command{
		Use:   "ingest <user> <repo>",
		Short: "Generate embeddings for a repository and populate its collection",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), configPath, func(ctx context.Context, a *app) error {
				result, err := a.ingestion.Ingest(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d records in collection (%d added in %s)\n",
					result.RepoKey, result.Count, result.Added, result.Duration.Round(time.Millisecond))
				return nil
			})
		},
	}

	queryCmd := &cobra.Command{
		Use:   "query <user> <repo> <question...>",
		Short: "Print the nearest chunks to a question as JSON",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), configPath, func(ctx context.Context, a *app) error {
				result, err := a.queries.Query(ctx, args[0], args[1], strings.Join(args[2:], " "))
				if err != nil {
					return err
				}
				return printJSON(cmd, result)
			})
		},
	}

	var useAgent bool
	askCmd := &cobra.Command{
		Use:   "ask <user> <repo>",
		Short: "Interactively ask questions about a repository",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), configPath, func(ctx context.Context, a *app) error {
				provider := application.NewConsoleQuestionProvider(cmd.InOrStdin(), cmd.OutOrStdout())
				if useAgent {
					return application.NewAgentSession(a.agent, provider, cmd.OutOrStdout(), args[0], args[1]).Run(ctx)
				}
				session := application.NewAskSession(a.queries, provider, cmd.OutOrStdout(), args[0], args[1])
				return session.Run(ctx)
			})
		},
	}
	askCmd.Flags().BoolVar(&useAgent, "agent", false, "Chat with the tool-using code agent instead of single-shot answers")

	schemaCmd := &cobra.Command{
		Use:       "schema <name>",
		Short:     "Print the JSON schema of the chunk input or the embeddings artifact",
		Args:      cobra.ExactArgs(1),
		ValidArgs: schema.Names(),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := schema.Lookup(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, s)
		},
	}

	rootCmd.AddCommand(serveCmd, ingestCmd, queryCmd, askCmd, schemaCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err.Error())
		os.Exit(1)
	}
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

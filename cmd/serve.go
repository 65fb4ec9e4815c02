package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jacklau/codereviewer/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server and workflow workers",
	Long: `Serve accepts GitHub, Linear and Jira webhooks, runs the review, mention,
indexing and issue sync workflows, and triggers the periodic integration sync.
Interrupted runs from a previous process are resumed on start.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	c, err := setup()
	if err != nil {
		return err
	}
	defer c.Close()

	cfg := c.Config.Server
	if serveAddr != "" {
		cfg.Addr = serveAddr
	}
	if cfg.WebhookSecret == "" {
		c.Logger.Warn("server.webhook_secret is empty; GitHub webhook signatures are not verified")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := server.New(c.Pipeline, cfg, c.Logger)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.Engine.Run(gctx) })
	g.Go(func() error { return srv.ListenAndServe(gctx) })

	if err := g.Wait(); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	c.Logger.Info("server stopped")
	return nil
}

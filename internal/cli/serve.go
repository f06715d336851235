package cli

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kilupskalvis/repodeploy/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the repodeploy HTTP service",
	Long: `Run the repodeploy HTTP service.

The service exposes clone, update, switch, remove and commit operations
over a JSON API, retries pending commits in the background and keeps the
token service session fresh.

The API token is read from the REPODEPLOY_API_TOKEN environment variable
or the api_token config key. An empty token disables authentication, so
only bind to loopback without one.`,
	Args: cobra.NoArgs,
	Run:  runServe,
}

var (
	serveListen      string
	serveWebhookURLs string
	serveRPM         int
)

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveListen, "listen", "", "Listen address (default from config)")
	f.StringVar(&serveWebhookURLs, "webhook-urls", os.Getenv("REPODEPLOY_WEBHOOK_URLS"), "Comma-separated webhook URLs to notify on completed operations")
	f.IntVar(&serveRPM, "rate-limit", server.DefaultOptions().RequestsPerMinute, "Requests per minute per client, 0 disables")
}

func runServe(_ *cobra.Command, _ []string) {
	c := initFullContext()
	defer c.Close()

	opts := server.DefaultOptions()
	opts.Listen = c.Config.Listen
	if serveListen != "" {
		opts.Listen = serveListen
	}
	opts.APIToken = c.Config.APIToken
	if tok := os.Getenv("REPODEPLOY_API_TOKEN"); tok != "" {
		opts.APIToken = tok
	}
	opts.RequestsPerMinute = serveRPM

	urls := c.Config.WebhookURLs
	for _, u := range strings.Split(serveWebhookURLs, ",") {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	webhooks := server.NewWebhookNotifier(urls, c.Logger)
	if webhooks != nil {
		c.Logger.Info("webhooks configured", zap.Int("count", len(urls)))
	}

	deps := server.Deps{
		Manager:  c.Manager,
		Queue:    c.Queue,
		Modes:    c.Modes,
		State:    c.State,
		Webhooks: webhooks,
		Logger:   c.Logger,
	}
	if c.Config.OAuthServiceURL != "" {
		deps.Refresher = c.OAuth
	}
	if opts.APIToken == "" {
		c.Logger.Warn("API token not set, authentication disabled", zap.String("listen", opts.Listen))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.New(opts, deps).Run(ctx); err != nil {
		c.Logger.Error("server error", zap.Error(err))
		c.Close()
		os.Exit(1)
	}
}

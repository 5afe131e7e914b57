// ABOUTME: Serve command for HTTP webhook server mode
// ABOUTME: Implements HTTP server that triggers a workflow based on incoming webhook requests

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/forgeflow/core/internal/circuit"
	"github.com/forgeflow/core/internal/config"
	"github.com/forgeflow/core/internal/history"
	"github.com/forgeflow/core/internal/scheduler"
	"github.com/forgeflow/core/internal/server"
	"github.com/forgeflow/core/internal/taskexec"
	"github.com/forgeflow/core/internal/workflow/parser"
	"github.com/forgeflow/core/pkg/types"
)

var (
	serverAddr       string
	serveWorkflow    string
	serveSource      string
	serveSecretEnv   string
	serveOutputStore string
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for webhook-triggered workflows",
	Long: `Start an HTTP server that accepts a signed webhook from a single
source and, once the signature validates, runs the configured workflow
asynchronously. Execution results are recorded and retrievable by id.

Examples:
  forgeflow serve --addr :8080 --workflow deploy.yaml --source github --secret-env WEBHOOK_SECRET`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveWorkflow == "" {
		return fmt.Errorf("--workflow is required")
	}
	if serveSource == "" {
		return fmt.Errorf("--source is required")
	}

	secret := os.Getenv(serveSecretEnv)
	if secret == "" {
		return fmt.Errorf("secret env var %q is unset or empty", serveSecretEnv)
	}

	logger := GetLogger()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if serveOutputStore != "" {
		cfg.OutputBackend = serveOutputStore
	}

	p := parser.New(afero.NewOsFs())
	workflow, err := p.ParseFile(serveWorkflow)
	if err != nil {
		return fmt.Errorf("failed to parse workflow: %w", err)
	}

	store, err := buildOutputStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to build output storage: %w", err)
	}
	sched := scheduler.New(scheduler.Config{
		MaxConcurrency: cfg.MaxConcurrency,
		Executor:       taskexec.Execute,
		CircuitStore:   circuit.New(),
		CircuitOptions: cfg.CircuitBreaker,
		RetryOptions:   cfg.RetryPolicy,
		Logger:         logger,
	}, store)

	hist := history.New(afero.NewOsFs(), cfg.HistoryDataDir)

	srv := server.New(server.Config{
		Addr:            serverAddr,
		SignatureHeader: cfg.WebhookSignatureHeader,
		Scheduler:       sched,
		History:         hist,
		Logger:          logger,
		Workflows: func(source string) (*types.WorkflowResource, bool) {
			if source == serveSource {
				return workflow, true
			}
			return nil, false
		},
		Secrets: func(source string) ([]byte, bool) {
			if source == serveSource {
				return []byte(secret), true
			}
			return nil, false
		},
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", serverAddr).Str("workflow", workflow.Name).Msg("starting webhook server")
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		logger.Info().Msg("shutting down webhook server")
		return srv.Stop(context.Background())
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverAddr, "addr", ":8080", "HTTP server listen address")
	serveCmd.Flags().StringVar(&serveWorkflow, "workflow", "", "workflow file to run when the webhook fires")
	serveCmd.Flags().StringVar(&serveSource, "source", "", "webhook source name this server accepts (used in the /webhooks/{source} path)")
	serveCmd.Flags().StringVar(&serveSecretEnv, "secret-env", "FORGEFLOW_WEBHOOK_SECRET", "environment variable holding the shared HMAC secret for this source")
	serveCmd.Flags().StringVar(&serveOutputStore, "output-backend", "", "output storage backend: memory or s3 (default from config)")
}

package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/codewatch-dev/codewatch/internal/httpapi"
	"github.com/codewatch-dev/codewatch/internal/llmgateway"
	"github.com/codewatch-dev/codewatch/internal/orchestrator"
	"github.com/codewatch-dev/codewatch/internal/ownership"
	"github.com/codewatch-dev/codewatch/internal/reposstore"
	"github.com/codewatch-dev/codewatch/internal/store"
	"github.com/codewatch-dev/codewatch/pkg/config"
	"github.com/codewatch-dev/codewatch/pkg/observability"
)

// runnerAdapter satisfies httpapi.Runner by plugging the per-request API
// key into an otherwise-fixed orchestrator.Deps.
type runnerAdapter struct {
	deps orchestrator.Deps
}

func (a runnerAdapter) Run(ctx context.Context, apiKey, auditID string) error {
	deps := a.deps
	deps.APIKey = apiKey

	return orchestrator.Run(ctx, deps, auditID)
}

// NewServeCommand builds `codewatch serve`: boots the store, repo checkout
// root, LLM gateway, and ownership resolver, then serves the chi router
// until SIGINT/SIGTERM.
func NewServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the CodeWatch HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, configPath)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to config.yaml (defaults to ./config.yaml)")

	return cmd
}

func runServe(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("serve: load config: %w", err)
	}

	obsCfg := observability.DefaultConfig()
	obsCfg.Mode = observability.ModeServe
	obsCfg.LogJSON = cfg.Logging.Format == "json"
	obsCfg.PrometheusAddr = cfg.Metrics.Addr

	providers, err := observability.Init(obsCfg)
	if err != nil {
		return fmt.Errorf("serve: init observability: %w", err)
	}
	defer func() { _ = providers.Shutdown(context.Background()) }()

	logger := providers.Logger

	st, err := store.Open(cfg.Storage.DatabasePath)
	if err != nil {
		return fmt.Errorf("serve: open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	repos, err := reposstore.New(cfg.Repository.Root)
	if err != nil {
		return fmt.Errorf("serve: init repo store: %w", err)
	}

	red, err := observability.NewREDMetrics(providers.Meter)
	if err != nil {
		return fmt.Errorf("serve: init RED metrics: %w", err)
	}

	auditMetrics, err := observability.NewAuditMetrics(providers.Meter)
	if err != nil {
		return fmt.Errorf("serve: init audit metrics: %w", err)
	}

	gateway := llmgateway.New("https://api.anthropic.com", http.DefaultClient, logger, red)

	deps := orchestrator.Deps{
		Store:        st,
		Repos:        repos,
		Gateway:      gateway,
		AuditMetrics: auditMetrics,
		Logger:       logger,
	}

	srv := httpapi.New(st, ownership.New(), runnerAdapter{deps: deps}, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Router(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)

	go func() {
		logger.Info("codewatch: listening", "addr", addr)

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}

		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("codewatch: shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		return httpServer.Shutdown(shutdownCtx)
	case err := <-serveErr:
		return err
	}
}

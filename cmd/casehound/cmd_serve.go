package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/casehound/casehound/internal/evidence"
	"github.com/casehound/casehound/internal/execution/executor"
	"github.com/casehound/casehound/internal/httpapi"
	"github.com/casehound/casehound/internal/hunt"
	"github.com/casehound/casehound/internal/notify"
	"github.com/casehound/casehound/internal/platform/auth"
	"github.com/casehound/casehound/internal/platform/env"
	"github.com/casehound/casehound/internal/platform/httpserver"
	"github.com/casehound/casehound/internal/platform/objectstore"
	platformpg "github.com/casehound/casehound/internal/platform/postgres"
	"github.com/casehound/casehound/internal/plugin"
	"github.com/casehound/casehound/internal/plugin/builtin"
	repopg "github.com/casehound/casehound/internal/repo/postgres"
	"github.com/casehound/casehound/internal/service/hunts"
)

const serviceName = "casehound"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the hunt execution API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(parent context.Context) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbCfg, err := platformpg.ConfigFromEnv()
	if err != nil {
		return fmt.Errorf("database config: %w", err)
	}
	db, err := platformpg.Open(ctx, dbCfg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()

	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		return fmt.Errorf("objectstore config: %w", err)
	}
	store, err := objectstore.NewMinIOClient(storeCfg)
	if err != nil {
		return fmt.Errorf("objectstore: %w", err)
	}
	if err := objectstore.EnsureBucket(ctx, store, storeCfg); err != nil {
		return fmt.Errorf("objectstore bucket: %w", err)
	}
	evidenceStore, err := evidence.NewStore(store, storeCfg.BucketEvidence)
	if err != nil {
		return fmt.Errorf("evidence store: %w", err)
	}

	registry, err := hunt.DefaultRegistry()
	if err != nil {
		return fmt.Errorf("hunt registry: %w", err)
	}
	if dir := env.String("CASEHOUND_HUNT_DEFINITIONS_DIR", ""); dir != "" {
		loaded, err := hunt.LoadDirectory(registry, dir)
		if err != nil {
			return fmt.Errorf("load hunt definitions: %w", err)
		}
		logger.Info("hunt definitions loaded", "dir", dir, "count", loaded)
	}

	pluginCfg, err := builtin.ConfigFromEnv()
	if err != nil {
		return fmt.Errorf("plugin config: %w", err)
	}
	plugins := plugin.NewRegistry()
	builtin.RegisterAll(plugins, pluginCfg)

	hub := notify.NewHub()
	notifier := notify.Multi{hub}
	var nc *nats.Conn
	if natsURL := env.String("NATS_URL", ""); natsURL != "" {
		nc, err = nats.Connect(natsURL, nats.Name(serviceName))
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer nc.Drain()
		publisher, err := notify.NewNATSPublisher(nc, env.String("NATS_SUBJECT_PREFIX", ""))
		if err != nil {
			return fmt.Errorf("nats publisher: %w", err)
		}
		notifier = append(notifier, publisher)
		logger.Info("nats notifier enabled", "url", natsURL)
	}

	executions := repopg.NewExecutionStore(db)
	steps := repopg.NewStepStore(db)
	runner := executor.New(executions, steps, plugins, notifier, logger).
		WithEvidenceSaver(evidenceStore)

	maxConcurrent, err := env.Int64("CASEHOUND_MAX_CONCURRENT_EXECUTIONS", 8)
	if err != nil {
		return err
	}
	runTimeout, err := env.Duration("CASEHOUND_EXECUTION_TIMEOUT", 30*time.Minute)
	if err != nil {
		return err
	}
	service, err := hunts.New(logger, registry, executions, steps, runner, hunts.Config{
		MaxConcurrentExecutions: maxConcurrent,
		RunTimeout:              runTimeout,
	})
	if err != nil {
		return fmt.Errorf("service: %w", err)
	}
	service.WithAuditLog(db)

	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		return fmt.Errorf("auth config: %w", err)
	}
	var authenticator auth.Authenticator
	switch authCfg.Mode {
	case auth.ModeOIDC:
		authenticator, err = auth.NewOIDCAuthenticator(ctx, authCfg)
		if err != nil {
			return fmt.Errorf("oidc: %w", err)
		}
	case auth.ModeGateway:
		authenticator, err = auth.NewGatewayAuthenticator(authCfg)
		if err != nil {
			return fmt.Errorf("gateway auth: %w", err)
		}
	case auth.ModeDev:
		authenticator = auth.NewDevAuthenticator(authCfg)
		logger.Warn("dev auth mode enabled")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", httpserver.Healthz(serviceName))
	mux.HandleFunc("GET /readyz", httpserver.ReadyzWithChecks(serviceName,
		httpserver.ReadinessCheck{Name: "postgres", Check: db.PingContext},
		httpserver.ReadinessCheck{Name: "objectstore", Check: func(ctx context.Context) error {
			return objectstore.CheckBucket(ctx, store, storeCfg)
		}},
	))

	api := httpapi.New(logger, service, hub)
	apiMux := http.NewServeMux()
	api.Register(apiMux)

	var apiHandler http.Handler = apiMux
	if authenticator != nil {
		apiHandler = auth.Middleware{
			Logger:        logger,
			Authenticator: authenticator,
			Authorize:     auth.MethodRoleAuthorizer(),
		}.Wrap(apiHandler)
	}
	mux.Handle("/v1/", apiHandler)

	srvCfg := httpserver.Config{
		Service: serviceName,
		Addr:    env.String("CASEHOUND_HTTP_ADDR", ":8080"),
	}
	err = httpserver.Run(ctx, logger, srvCfg, httpserver.Wrap(logger, serviceName, mux))

	// Let in-flight executions observe cancellation and settle before the
	// process exits.
	service.Wait()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

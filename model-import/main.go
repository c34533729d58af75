package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/animus-labs/modelimport/internal/ingest"
	"github.com/animus-labs/modelimport/internal/platform/auditlog"
	"github.com/animus-labs/modelimport/internal/platform/auth"
	"github.com/animus-labs/modelimport/internal/platform/env"
	"github.com/animus-labs/modelimport/internal/platform/httpserver"
	"github.com/animus-labs/modelimport/internal/platform/notifier"
	"github.com/animus-labs/modelimport/internal/platform/objectstore"
	"github.com/animus-labs/modelimport/internal/platform/postgres"
	"github.com/animus-labs/modelimport/internal/platform/scanjob"
	repopg "github.com/animus-labs/modelimport/internal/repo/postgres"
	importsvc "github.com/animus-labs/modelimport/internal/service/imports"
	"github.com/animus-labs/modelimport/internal/service/notify"
	"github.com/animus-labs/modelimport/internal/service/reports"
	storageobjectstore "github.com/animus-labs/modelimport/internal/storage/objectstore"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("MODEL_IMPORT_HTTP_ADDR", ":8086")
	shutdownTimeout, err := env.Duration("MODEL_IMPORT_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid object store config", "error", err)
		os.Exit(2)
	}
	storeClient, err := objectstore.NewMinIOClient(storeCfg)
	if err != nil {
		logger.Error("object store client init failed", "error", err)
		os.Exit(2)
	}
	startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := objectstore.EnsureBucket(startupCtx, storeClient, storeCfg); err != nil {
		cancel()
		logger.Error("object store unavailable", "error", err)
		os.Exit(1)
	}
	cancel()

	reportMaxBytes, err := env.Int("MODEL_IMPORT_REPORT_MAX_BYTES", reports.DefaultMaxBytes)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	importStore := repopg.NewImportStore(db)
	stageOutputStore := repopg.NewStageOutputStore(db)
	dependencyStore := repopg.NewDependencyStore(db)
	auditAppender := repopg.NewAuditAppender(db)

	reportObjectStore, err := storageobjectstore.NewMinioStoreWithClient(storeClient)
	if err != nil {
		logger.Error("report object store init failed", "error", err)
		os.Exit(2)
	}
	reportStore, err := reports.NewStore(stageOutputStore, reportObjectStore, storeCfg.BucketReports, reportMaxBytes)
	if err != nil {
		logger.Error("report store init failed", "error", err)
		os.Exit(2)
	}

	notifierCfg, err := notifier.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid notifier config", "error", err)
		os.Exit(2)
	}
	notifierClient, err := notifier.NewClient(notifierCfg)
	if err != nil {
		logger.Error("notifier client init failed", "error", err)
		os.Exit(2)
	}
	fanout, err := notify.NewNotifier(dependencyStore, notifierClient, logger)
	if err != nil {
		logger.Error("notifier init failed", "error", err)
		os.Exit(2)
	}

	scanCfg, err := scanjob.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid scan job config", "error", err)
		os.Exit(2)
	}
	scanClient, err := scanjob.NewClient(scanCfg)
	if err != nil {
		logger.Error("scan job client init failed", "error", err)
		os.Exit(2)
	}

	service, err := importsvc.NewService(importStore, reportStore, fanout, scanClient, auditAppender, logger)
	if err != nil {
		logger.Error("import service init failed", "error", err)
		os.Exit(2)
	}

	rules := ingest.DefaultRules()
	if rulesPath := env.String("MODEL_IMPORT_RULES_FILE", ""); rulesPath != "" {
		rules, err = ingest.LoadRules(rulesPath)
		if err != nil {
			logger.Error("invalid ingest rules", "error", err)
			os.Exit(2)
		}
	}
	ingestor, err := ingest.NewIngestor(service, rules, logger)
	if err != nil {
		logger.Error("ingestor init failed", "error", err)
		os.Exit(2)
	}

	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid auth config", "error", err)
		os.Exit(2)
	}
	var authenticator auth.Authenticator
	switch authCfg.Mode {
	case auth.ModeOIDC:
		authenticator, err = auth.NewOIDCAuthenticator(ctx, authCfg)
	case auth.ModeDev:
		authenticator = auth.NewDevAuthenticator(authCfg)
	default:
		authenticator, err = auth.NewGatewayHeadersAuthenticator(authCfg.InternalAuthSecret)
	}
	if err != nil {
		logger.Error("invalid auth setup", "error", err)
		os.Exit(2)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz("model-import"))
	mux.HandleFunc(
		"/readyz",
		httpserver.ReadyzWithChecks(
			"model-import",
			httpserver.ReadinessCheck{
				Name: "postgres",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return db.PingContext(checkCtx)
				},
			},
			httpserver.ReadinessCheck{
				Name: "minio",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return objectstore.CheckBucket(checkCtx, storeClient, storeCfg)
				},
			},
		),
	)

	api := newModelImportAPI(logger, service, reportStore, ingestor)
	api.register(mux)

	handler := auth.Middleware{
		Logger:        logger,
		Authenticator: authenticator,
		Authorize:     auth.MethodRoleAuthorizer(),
		Audit: func(ctx context.Context, event auth.DenyEvent) error {
			auditCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
			defer cancel()
			return auditlog.InsertAuthDeny(auditCtx, db, "model-import", event)
		},
		SkipPrefixes: []string{"/healthz", "/readyz"},
	}.Wrap(mux)

	cfg := httpserver.Config{
		Service:         "model-import",
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}

	if err := httpserver.Run(ctx, logger, cfg, httpserver.Wrap(logger, "model-import", handler)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

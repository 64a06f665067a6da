package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/wuyou/docbridge/internal/callback"
	"github.com/wuyou/docbridge/internal/config"
	"github.com/wuyou/docbridge/internal/document"
	"github.com/wuyou/docbridge/internal/editor"
	"github.com/wuyou/docbridge/internal/errs"
	"github.com/wuyou/docbridge/internal/filestore"
	"github.com/wuyou/docbridge/internal/filestore/memory"
	"github.com/wuyou/docbridge/internal/filestore/minio"
	"github.com/wuyou/docbridge/internal/journal"
	"github.com/wuyou/docbridge/internal/logger"
	"github.com/wuyou/docbridge/internal/metrics"
	"github.com/wuyou/docbridge/internal/server"
	"github.com/wuyou/docbridge/internal/staging"
	"github.com/wuyou/docbridge/internal/token"
)

const startupTimeout = 30 * time.Second

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logger.New(&cfg.Log)
	logger.SetGlobal(log)

	startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	store, err := openStore(startCtx, &cfg.Store)
	if err != nil {
		log.ErrorWith("object store init failed", err, map[string]interface{}{"provider": string(cfg.Store.Provider)})
		return err
	}
	defer store.Close()

	if err := store.EnsureBucket(startCtx, cfg.Store.Bucket); err != nil {
		log.ErrorWith("bucket init failed", err, map[string]interface{}{"bucket": cfg.Store.Bucket})
		return err
	}

	sweepStaging(log, cfg.Editor.StagingDir, cfg.Editor.StagingMaxAge)

	var (
		docObserver      document.Observer
		callbackObserver callback.Observer
		metricsHandler   http.Handler
	)
	if cfg.Metrics.Enabled {
		reg := promclient.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		obs, err := metrics.NewObserver(cfg.Metrics.Namespace, reg)
		if err != nil {
			return err
		}
		docObserver, callbackObserver = obs, obs
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	var jrnl journal.Journal = journal.Nop{}
	if cfg.Journal.Enabled {
		sqlJournal, err := journal.Open(startCtx, &cfg.Journal.Database)
		if err != nil {
			log.ErrorWith("journal init failed", err, map[string]interface{}{"driver": string(cfg.Journal.Database.Driver)})
			return err
		}
		defer sqlJournal.Close()
		jrnl = sqlJournal
	}

	signer := token.New(cfg.Editor.JWTSecret)
	if !signer.Enabled() {
		log.Warn("no JWT secret configured; callbacks are accepted unsigned")
	}

	docs := document.NewService(store, document.Options{
		Bucket:        cfg.Store.Bucket,
		PresignTTL:    cfg.Store.PresignTTL,
		UploadTimeout: cfg.Store.UploadTimeout,
		Logger:        log,
		Observer:      docObserver,
	})

	workflow := callback.NewWorkflow(store, callback.WorkflowConfig{
		Bucket:           cfg.Store.Bucket,
		FetchTimeout:     cfg.Editor.FetchTimeout,
		DownloadTimeout:  cfg.Editor.DownloadTimeout,
		UploadTimeout:    cfg.Store.UploadTimeout,
		QueueTimeout:     cfg.Editor.QueueTimeout,
		MaxDocumentBytes: cfg.Editor.MaxDocumentBytes,
		MaxConcurrent:    cfg.Editor.MaxConcurrentSaves,
		StagingDir:       cfg.Editor.StagingDir,
		SerializeSaves:   cfg.Editor.SerializeSaves,
	}, nil, log)

	processor := callback.NewProcessor(workflow, callback.ProcessorOptions{
		Signer:       signer,
		Journal:      jrnl,
		Observer:     callbackObserver,
		Logger:       log,
		AllowedHosts: cfg.Editor.AllowedHosts,
	})

	deps := server.Deps{
		Documents: docs,
		Callbacks: processor,
		Editor:    editor.New(cfg.Editor.DocumentServerURL, cfg.Editor.CallbackURL, cfg.Editor.Lang, signer),
		Journal:   jrnl,
		Store:     store,
		Metrics:   metricsHandler,
		Logger:    log,
	}

	srv := server.New(deps, server.Options{
		Addr:           cfg.Server.Addr,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		CORSOrigins:    cfg.Server.CORSOrigins,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			log.ErrorWith("server error", err, nil)
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down gracefully...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.ErrorWith("forced shutdown", err, nil)
		return err
	}
	log.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *filestore.Config) (filestore.Store, error) {
	switch cfg.Provider {
	case filestore.ProviderMinIO:
		return minio.New(ctx, cfg)
	case filestore.ProviderMemory:
		return memory.New(), nil
	default:
		return nil, errs.New(errs.ErrKindInvalidInput, "unsupported store provider "+string(cfg.Provider))
	}
}

func sweepStaging(log *logger.Logger, dir string, maxAge time.Duration) {
	if maxAge <= 0 {
		return
	}
	removed, err := staging.Sweep(dir, maxAge, time.Now())
	if err != nil {
		log.ErrorWith("staging sweep failed", err, map[string]interface{}{"dir": dir})
		return
	}
	if removed > 0 {
		log.InfoWith("removed stale staging artifacts", map[string]interface{}{"dir": dir, "count": removed})
	}
}

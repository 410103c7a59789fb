package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"variagen/config"
	"variagen/job"
	"variagen/jobstore"
	"variagen/logger"
	"variagen/routes"
	"variagen/sampler"
	"variagen/service"
	"variagen/transcoder"
	"variagen/utils"
	writerbackends "variagen/writerBackends"
)

const shutdownTimeout = 30 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Recover interrupted jobs, then accept and process submissions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(cmd)
			if err != nil {
				return err
			}
			defer logger.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	logger.Infof("Starting variagen %s", routes.BuildVersion())

	store, err := jobstore.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Infof("Job store initialized (%s)", cfg.Store.Driver)

	// Recovery runs before anything can be admitted.
	p := paths(cfg)
	report, err := job.Recover(ctx, store, p)
	if err != nil {
		return fmt.Errorf("recovery failed: %w", err)
	}

	transcoder.RegisterDefaults(cfg.FFmpegPath)
	engine, err := transcoder.New(transcoder.Options{
		Engine:    cfg.Engine,
		Path:      cfg.FFmpegPath,
		ProbePath: cfg.FFprobePath,
		Preset:    cfg.FFmpegPreset,
		CRF:       cfg.FFmpegCRF,
		Timeout:   cfg.EngineTimeout,
	})
	if err != nil {
		return err
	}

	opts := job.WorkerOptions{
		Store:      store,
		Engine:     engine,
		Sampler:    sampler.New(),
		Paths:      p,
		BatchSize:  cfg.BatchSize,
		Retries:    uint(cfg.TerminalRetries),
		RetryDelay: cfg.TerminalRetryDelay,
		Notifier:   job.NewHTTPNotifier(cfg.AllowPrivateCallbacks),
	}
	publisher, err := writerbackends.New(cfg.Publish, cfg.ServeDir)
	if err != nil {
		return err
	}
	if publisher.Len() > 0 {
		opts.Publisher = publisher
		logger.Infof("Publishing archives to %d destination(s)", publisher.Len())
	}

	sched := job.NewScheduler(cfg.MaxConcurrentJobs, job.NewWorker(opts))
	if err := job.Requeue(ctx, store, sched, &report); err != nil {
		logger.Errorf("Failed to requeue stored jobs: %v", err)
	}
	logger.Infof("Startup recovery: %s", report)

	secret, err := utils.DownloadSecret(cfg.DownloadSecret)
	if err != nil {
		return err
	}
	svcOpts := service.Options{
		Store:          store,
		Queue:          sched,
		UploadDir:      cfg.UploadDir(),
		MaxUploadBytes: cfg.MaxUploadBytes,
		MaxVariations:  cfg.MaxVariations,
		Secret:         secret,
		LinkTTL:        cfg.DownloadLinkTTL,
		OutputDir:      p.OutputDir,
		ArchiveDir:     p.ArchiveDir,

		AllowPrivateCallbacks: cfg.AllowPrivateCallbacks,
	}
	if cleaner, ok := engine.(transcoder.MetadataCleaner); ok {
		svcOpts.Cleaner = cleaner
	}
	svc := service.New(svcOpts)

	housekeeper := &job.Housekeeper{
		Store:     store,
		UploadDir: cfg.UploadDir(),
		Paths:     p,
		MaxAge:    cfg.RetentionAge,
	}
	go housekeeper.Run(ctx, cfg.SweepInterval)

	e := routes.NewEcho(routes.New(routes.Options{
		Service:        svc,
		Store:          store,
		Stats:          sched,
		PublicBaseURL:  cfg.PublicBaseURL,
		MaxUploadBytes: cfg.MaxUploadBytes,
		MaxConcurrent:  cfg.MaxConcurrentJobs,
	}))

	serveErr := make(chan error, 1)
	go func() {
		logger.Infof("HTTP server listening on %s", cfg.HTTPAddr)
		if err := e.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown requested")
	case err := <-serveErr:
		if err != nil {
			logger.Errorf("HTTP server failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("HTTP shutdown: %v", err)
	}
	// Jobs still running past the deadline are failed by recovery at the next start.
	if err := sched.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("Scheduler shutdown: %v", err)
	}
	logger.Info("variagen stopped")
	return nil
}

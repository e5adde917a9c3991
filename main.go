package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mahirjain10/go-resizer/config"
	"github.com/mahirjain10/go-resizer/internal/aws"
	"github.com/mahirjain10/go-resizer/internal/batch"
	"github.com/mahirjain10/go-resizer/internal/cache"
	"github.com/mahirjain10/go-resizer/internal/metrics"
	"github.com/mahirjain10/go-resizer/internal/queue"
	"github.com/mahirjain10/go-resizer/internal/resolver"
	"github.com/mahirjain10/go-resizer/internal/server"
	"github.com/mahirjain10/go-resizer/internal/transformation"
	"github.com/mahirjain10/go-resizer/internal/utils"
)

// App holds the pipeline shared by the HTTP server and the queue worker.
type App struct {
	config      *config.Config
	logger      *slog.Logger
	observer    *metrics.Observer
	cache       *cache.RedisCache
	s3Service   *aws.S3Service
	resolver    *resolver.Resolver
	coordinator *batch.Coordinator
}

// NewApp creates and initializes a new App instance with all dependencies
func NewApp(ctx context.Context, logger *slog.Logger) (*App, error) {
	envConfig, err := config.InitializeEnvs()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize environment config: %w", err)
	}

	awsConfig, err := config.InitializeAws(ctx, envConfig.AwsRegion)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize AWS config: %w", err)
	}

	observer, err := metrics.New("resizer", nil)
	if err != nil {
		return nil, err
	}

	s3Client := aws.NewS3Client(awsConfig, envConfig.S3Endpoint)
	s3Service := aws.NewS3Service(s3Client, envConfig.AwsBucketName, envConfig.S3Prefix, envConfig.S3Timeout, observer, logger)
	if err := s3Service.EnsureBucket(ctx, envConfig.AwsRegion); err != nil {
		return nil, fmt.Errorf("failed to prepare bucket: %w", err)
	}

	redisCache, err := cache.NewRedisCache(envConfig.RedisURL, envConfig.RedisTimeout, observer, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis cache: %w", err)
	}

	res := resolver.New(redisCache, s3Service, transformation.NewEngine(), observer, logger)
	return &App{
		config:      envConfig,
		logger:      logger,
		observer:    observer,
		cache:       redisCache,
		s3Service:   s3Service,
		resolver:    res,
		coordinator: batch.NewCoordinator(res, envConfig.Workers, logger),
	}, nil
}

func (a *App) Close() error {
	return a.cache.Close()
}

func (a *App) serve(ctx context.Context) error {
	srv := server.New(server.Config{
		Addr:           a.config.HTTPAddr,
		MaxFiles:       a.config.MaxFiles,
		MaxUploadBytes: a.config.MaxUploadBytes,
		DeviceID:       a.config.DeviceID,
		SessionTTL:     a.config.SessionTTL,
		SessionLimit:   a.config.SessionLimit,
	}, a.coordinator, a.resolver, a.observer, a.logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	a.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (a *App) work(ctx context.Context) error {
	if err := a.config.ValidateWorker(); err != nil {
		return err
	}
	conn, err := utils.NewRabbitMQClient(a.config.RabbitMqURL)
	if err != nil {
		return err
	}
	defer conn.Close()

	rabbitMqService := queue.NewRabbitMqService(a.s3Service, a.resolver, a.config, a.logger)
	return rabbitMqService.Start(ctx, conn)
}

func newLogger(level string, json bool) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if json {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
}

func newRootCmd() *cobra.Command {
	var logLevel string
	var logJSON bool

	run := func(fn func(*App, context.Context) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(logLevel, logJSON)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			app, err := NewApp(ctx, logger)
			if err != nil {
				return err
			}
			defer app.Close()
			logger.Info("application initialized", "command", cmd.Name())
			return fn(app, ctx)
		}
	}

	root := &cobra.Command{
		Use:           "resizer",
		Short:         "Resize images through a Redis and S3 backed asset pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")
	root.PersistentFlags().BoolVar(&logJSON, "log-json", false, "emit JSON logs")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Serve the resize HTTP API",
		Args:  cobra.NoArgs,
		RunE:  run((*App).serve),
	})
	root.AddCommand(&cobra.Command{
		Use:   "worker",
		Short: "Consume prewarm jobs from RabbitMQ",
		Args:  cobra.NoArgs,
		RunE:  run((*App).work),
	})
	return root
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("resizer failed", "err", err)
		os.Exit(1)
	}
}

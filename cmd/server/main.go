package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/PaulBabatuyi/filebox/internal/config"
	"github.com/PaulBabatuyi/filebox/internal/database"
	"github.com/PaulBabatuyi/filebox/internal/middleware"
	"github.com/PaulBabatuyi/filebox/internal/observability"
	"github.com/PaulBabatuyi/filebox/internal/pipeline"
	"github.com/PaulBabatuyi/filebox/internal/rpc"
	"github.com/PaulBabatuyi/filebox/internal/server"
	"github.com/PaulBabatuyi/filebox/internal/service"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "filebox",
		Short:         "File upload service with derived variants and moderation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "settings file (yaml or json)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the gRPC and HTTP APIs and the stage runner",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withRuntime(cmd.Context(), configPath, serve)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply database migrations and exit",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withRuntime(cmd.Context(), configPath, func(_ context.Context, cfg *config.Config, logger *zap.Logger) error {
					if cfg.Database.DSN == "" {
						return errors.New("database.dsn is not set")
					}
					return database.Migrate(cfg.Database.DSN, logger)
				})
			},
		},
		newReprocessCmd(&configPath),
	)
	return root
}

func newReprocessCmd(configPath *string) *cobra.Command {
	var stages []string
	cmd := &cobra.Command{
		Use:   "reprocess",
		Short: "Queue every file for the given stages and drain the pipeline once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd.Context(), *configPath, func(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
				a, err := newApp(ctx, cfg, logger, nil)
				if err != nil {
					return err
				}
				defer a.Close()
				if err := a.loadRules(ctx); err != nil {
					return err
				}

				keys, err := a.store.ListFileKeys(ctx)
				if err != nil {
					return err
				}
				for _, stage := range stages {
					if err := a.store.Enqueue(ctx, stage, keys); err != nil {
						return fmt.Errorf("enqueue %s: %w", stage, err)
					}
				}
				logger.Info("reprocessing", zap.Int("files", len(keys)), zap.Strings("stages", stages))

				start := time.Now()
				if err := a.worker.Drain(ctx); err != nil {
					return err
				}
				logger.Info("reprocess finished", zap.Duration("elapsed", time.Since(start)))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&stages, "stage", []string{pipeline.StageCompress, pipeline.StageModerationFilter}, "stages to queue every file for")
	return cmd
}

type runFunc func(ctx context.Context, cfg *config.Config, logger *zap.Logger) error

// withRuntime loads settings, builds the logger and cancels ctx on SIGINT
// or SIGTERM.
func withRuntime(parent context.Context, configPath string, fn runFunc) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := observability.InitLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := fn(ctx, cfg, logger); err != nil {
		logger.Error("command failed", zap.Error(err))
		return err
	}
	return nil
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	var traceOut io.Writer
	if cfg.Server.TraceStdout {
		traceOut = os.Stdout
	}
	tp, err := observability.InitTracerProvider(ctx, traceOut, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		observability.ShutdownTracerProvider(shutdownCtx, tp, logger)
	}()

	a, err := newApp(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.loadRules(ctx); err != nil {
		return err
	}
	if a.watcher != nil && cfg.Pipeline.WatchRules {
		a.watcher.Watch(ctx)
	}

	a.worker.Start(ctx)
	defer a.worker.Stop()

	auth := middleware.NewAPIKeys(cfg.Server.APIKeys)
	if !auth.Enabled() {
		logger.Warn("no api keys configured, authentication disabled")
	}
	grpcMetrics := a.metrics.GetServerMetrics()
	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler(observability.GRPCOptions(tp)...)),
		grpc.ChainUnaryInterceptor(
			grpcMetrics.UnaryServerInterceptor(),
			middleware.UnaryLoggingInterceptor(logger.Named("grpc")),
			auth.UnaryInterceptor(),
		),
		grpc.ChainStreamInterceptor(
			grpcMetrics.StreamServerInterceptor(),
			middleware.StreamLoggingInterceptor(logger.Named("grpc")),
			auth.StreamInterceptor(),
		),
		grpc.MaxRecvMsgSize(4<<20),
	)
	rpc.RegisterFileBoxServer(grpcServer, service.NewFileServer(a.svc))
	grpcMetrics.InitializeMetrics(grpcServer)

	routerOpts := server.Options{
		APIKeys:        auth,
		Metrics:        a.metrics.HTTP(),
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		Logger:         logger.Named("http"),
	}
	if cfg.Server.MetricsPort > 0 {
		metricsSrv := observability.StartMetricsServer(strconv.Itoa(cfg.Server.MetricsPort), a.metrics.GetHandler(), logger)
		defer metricsSrv.Close()
	} else {
		routerOpts.MetricsHandler = a.metrics.GetHandler()
	}
	httpServer := server.New(cfg.Server.HTTPPort, server.NewRouter(a.svc, routerOpts), cfg.Server.ShutdownTimeout, logger.Named("http"))

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("gRPC server listening", zap.String("addr", lis.Addr().String()))
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		return httpServer.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(cfg.Server.ShutdownTimeout):
			grpcServer.Stop()
		}
		return nil
	})

	logger.Info("filebox started",
		zap.Int("grpc_port", cfg.Server.GRPCPort),
		zap.Int("http_port", cfg.Server.HTTPPort),
		zap.String("blob_driver", cfg.Blob.Driver),
	)
	if err := g.Wait(); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	logger.Info("filebox stopped")
	return nil
}


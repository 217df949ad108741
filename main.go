package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/minio/minio-go/v7/pkg/notification"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/config"
	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/handler"
	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/middleware"
	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/model"
	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/pkg/logger"
	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/service"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		cfg        *config.Config
	)

	root := &cobra.Command{
		Use:           "serverless-elt",
		Short:         "Raw object ingest and columnar transform pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				slog.Error("failed to load config", "error", err)
				return err
			}
			logger.Init(&logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cmd.ErrOrStderr()})

			if err := cfg.Validate(config.Mode(cmd.Name())); err != nil {
				slog.Error("invalid configuration", "error", err)
				return err
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML config file")

	cfgFn := func() *config.Config { return cfg }
	root.AddCommand(
		newServeCmd(cfgFn),
		newIngestCmd(cfgFn),
		newTransformCmd(cfgFn),
		newReplayCmd(cfgFn),
		newQualityCmd(cfgFn),
		newTokenCmd(cfgFn),
	)
	return root
}

func newServeCmd(cfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   string(config.ModeServe),
		Short: "Serve the HTTP API, and optionally the bucket listener and queue consumer",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg())
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.minio.EnsureBuckets(ctx); err != nil {
		slog.Error("failed to ensure buckets", "error", err)
		return err
	}

	ingest, err := a.ingestOrchestrator(ctx)
	if err != nil {
		return err
	}
	transform, err := a.transformOrchestrator()
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.HTTPMetrics(a.registry))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))

	authHandler := handler.NewAuthHandler(cfg)
	pipelineHandler := handler.NewPipelineHandler(ingest, transform, a.unitFilter())
	opsHandler := handler.NewOpsHandler(a.replayer(), a.qualityProbe())

	api := router.Group("/api")
	{
		api.POST("/auth/token", middleware.RateLimit(cfg.Server.RateLimit, time.Minute), authHandler.Token)
	}

	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(&cfg.Auth))
	protected.Use(middleware.RateLimit(cfg.Server.RateLimit, time.Minute))
	{
		protected.GET("/auth/me", authHandler.Me)
		protected.POST("/ingest", pipelineHandler.Ingest)
		protected.POST("/transform", pipelineHandler.Transform)
		protected.POST("/replay", opsHandler.Replay)
		protected.POST("/quality", opsHandler.Quality)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownSeconds)*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.Ingest.Listen {
		g.Go(func() error {
			slog.Info("listening for raw bucket notifications", "bucket", cfg.Minio.RawBucket, "prefix", cfg.Ingest.Prefix)
			return a.minio.ListenRaw(gctx, a.unitFilter(), ingest)
		})
	}

	if cfg.Transform.Consume {
		consumer, err := a.queueConsumer(transform)
		if err != nil {
			return err
		}
		if consumer != nil {
			g.Go(func() error {
				slog.Info("queue consumer starting", "driver", cfg.Queue.Driver)
				return consumer.Run(gctx)
			})
		}
	}

	if err := g.Wait(); err != nil {
		slog.Error("server stopped with error", "error", err)
		return err
	}
	slog.Info("server exited gracefully")
	return nil
}

func newIngestCmd(cfg func() *config.Config) *cobra.Command {
	var eventPath string
	cmd := &cobra.Command{
		Use:   string(config.ModeIngest),
		Short: "Ingest the objects named by a bucket notification",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var info notification.Info
			if err := readEvent(cmd, eventPath, &info); err != nil {
				return err
			}
			units, err := service.UnitsFromNotification(info)
			if err != nil {
				return err
			}

			a, err := newApp(ctx, cfg())
			if err != nil {
				return err
			}
			defer a.Close()

			ingest, err := a.ingestOrchestrator(ctx)
			if err != nil {
				return err
			}
			summary, err := ingest.Run(ctx, a.unitFilter().Apply(units))
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), summary)
		},
	}
	cmd.Flags().StringVarP(&eventPath, "event", "e", "", "notification JSON file (default stdin)")
	return cmd
}

func newTransformCmd(cfg func() *config.Config) *cobra.Command {
	var eventPath, invocationID string
	cmd := &cobra.Command{
		Use:   string(config.ModeTransform),
		Short: "Transform a batch of queued messages into partitioned Parquet files",
		RunE: func(cmd *cobra.Command, args []string) error {
			var req handler.TransformRequest
			if err := readEvent(cmd, eventPath, &req); err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg())
			if err != nil {
				return err
			}
			defer a.Close()

			transform, err := a.transformOrchestrator()
			if err != nil {
				return err
			}
			res, err := transform.Run(cmd.Context(), invocationID, req.Records)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVarP(&eventPath, "event", "e", "", "message batch JSON file (default stdin)")
	cmd.Flags().StringVar(&invocationID, "invocation-id", "", "invocation id used in file names (default random)")
	return cmd
}

func newReplayCmd(cfg func() *config.Config) *cobra.Command {
	var req service.ReplayRequest
	cmd := &cobra.Command{
		Use:   string(config.ModeReplay),
		Short: "Copy a window of raw objects so they are ingested again",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cfg())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.replayer().Run(cmd.Context(), req)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&req.SrcPrefix, "src-prefix", "", "raw prefix to replay")
	cmd.Flags().StringVar(&req.DestPrefixBase, "dest-prefix-base", "", "destination base under the raw prefix")
	cmd.Flags().StringVar(&req.Execution, "execution", "", "execution name (default run-<timestamp>)")
	cmd.Flags().StringVar(&req.Start, "start", "", "window start, ISO-8601")
	cmd.Flags().StringVar(&req.End, "end", "", "window end, ISO-8601")
	cmd.Flags().IntVar(&req.WindowHours, "window-hours", 0, "window length when start is not given")
	_ = cmd.MarkFlagRequired("src-prefix")
	return cmd
}

func newQualityCmd(cfg func() *config.Config) *cobra.Command {
	var (
		req        service.QualityRequest
		recordType string
	)
	cmd := &cobra.Command{
		Use:   string(config.ModeQuality),
		Short: "Check that recent Parquet output exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cfg())
			if err != nil {
				return err
			}
			defer a.Close()

			req.RecordType = model.Kind(recordType)
			res, err := a.qualityProbe().Check(cmd.Context(), req)
			if err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.OK {
				return fmt.Errorf("quality check failed: found %d of %d", res.Found, res.MinRequired)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&recordType, "record-type", string(model.KindShipments), "record type to check")
	cmd.Flags().StringVar(&req.Since, "since", "", "only count files modified at or after, ISO-8601")
	cmd.Flags().IntVar(&req.MinParquetObjects, "min", 0, "minimum number of files")
	return cmd
}

func newTokenCmd(cfg func() *config.Config) *cobra.Command {
	var clientID string
	cmd := &cobra.Command{
		Use:   string(config.ModeToken),
		Short: "Issue a bearer token for a configured client",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cfg()
			if c.FindClient(clientID) == nil {
				return fmt.Errorf("unknown client %q", clientID)
			}
			token, expiresAt, err := middleware.GenerateToken(clientID, &c.Auth)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), handler.TokenResponse{
				Token:     token,
				ExpiresAt: expiresAt.Format(time.RFC3339),
				Client:    clientID,
			})
		},
	}
	cmd.Flags().StringVar(&clientID, "client", "", "client id")
	_ = cmd.MarkFlagRequired("client")
	return cmd
}

func readEvent(cmd *cobra.Command, path string, v any) error {
	var r io.Reader = cmd.InOrStdin()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

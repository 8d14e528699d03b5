package main

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dunamismax/wardrobeflow/internal/config"
	"github.com/dunamismax/wardrobeflow/internal/crop"
	"github.com/dunamismax/wardrobeflow/internal/ingest"
	"github.com/dunamismax/wardrobeflow/internal/pipeline"
	"github.com/dunamismax/wardrobeflow/internal/ratelimit"
	"github.com/dunamismax/wardrobeflow/internal/retry"
	"github.com/dunamismax/wardrobeflow/internal/storage"
	"github.com/dunamismax/wardrobeflow/internal/store"
	"github.com/dunamismax/wardrobeflow/internal/telemetry"
	"github.com/dunamismax/wardrobeflow/internal/upload"
	"github.com/dunamismax/wardrobeflow/internal/webhook"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

func main() {
	logger := log.New(os.Stdout, "[wardrobe] ", log.LstdFlags|log.Lmsgprefix)

	if err := newRootCommand(logger).Execute(); err != nil {
		logger.Fatalf("%v", err)
	}
}

func newRootCommand(logger *log.Logger) *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:           "wardrobe",
		Short:         "Process and upload wardrobe images and avatars",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return config.LoadDotEnv(envFile)
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading configuration")

	root.AddCommand(newIngestCommand(logger), newAvatarCommand(logger))
	return root
}

func newIngestCommand(logger *log.Logger) *cobra.Command {
	var (
		maxImages   int
		concurrency int
		quality     float64
		maxSize     int
		retryFailed bool
	)

	cmd := &cobra.Command{
		Use:   "ingest [paths...]",
		Short: "Create gallery thumbnails for image files and upload them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			flags := cmd.Flags()
			if flags.Changed("max-images") {
				cfg.Pipeline.MaxImages = maxImages
			}
			if flags.Changed("concurrency") {
				cfg.Pipeline.Concurrency = concurrency
			}
			if flags.Changed("quality") {
				cfg.Pipeline.Quality = quality
			}
			if flags.Changed("max-size") {
				cfg.Pipeline.ThumbnailSize = maxSize
			}

			files, err := ingest.ReadFiles(args)
			if err != nil {
				return err
			}

			return withApp(cmd.Context(), cfg, logger, func(ctx context.Context, app *app) error {
				svc, err := app.service(ingest.Options{
					MaxImages:   cfg.Pipeline.MaxImages,
					Concurrency: cfg.Pipeline.Concurrency,
					Thumbnail: pipeline.Options{
						MaxWidth:  cfg.Pipeline.ThumbnailSize,
						MaxHeight: cfg.Pipeline.ThumbnailSize,
						Quality:   cfg.Pipeline.Quality,
					},
					RetryFailed: retryFailed,
					WebhookURL:  cfg.Webhook.URL,
				})
				if err != nil {
					return err
				}

				report, err := svc.IngestFiles(ctx, files)
				logger.Printf(
					"batch finished batch_id=%s uploaded=%d skipped=%d failed=%d dropped=%d",
					report.BatchID, report.Uploaded, report.Skipped, report.Failed, report.Dropped,
				)
				if encodeErr := printJSON(cmd, report); encodeErr != nil {
					return encodeErr
				}
				return err
			})
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&maxImages, "max-images", upload.DefaultMaxImages, "maximum number of files accepted per batch")
	flags.IntVar(&concurrency, "concurrency", 1, "files processed at once")
	flags.Float64Var(&quality, "quality", pipeline.DefaultQuality, "thumbnail encode quality in (0,1]")
	flags.IntVar(&maxSize, "max-size", pipeline.GalleryThumbnailSize, "thumbnail bounding box in pixels")
	flags.BoolVar(&retryFailed, "retry-failed", false, "retry failed files once before uploading")
	return cmd
}

func newAvatarCommand(logger *log.Logger) *cobra.Command {
	var (
		cropSpec    string
		displaySpec string
		remove      bool
	)

	cmd := &cobra.Command{
		Use:   "avatar <file>",
		Short: "Crop, compress and upload a new avatar, or delete the current one",
		Args: func(cmd *cobra.Command, args []string) error {
			if remove {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			tracker := upload.NewTracker(func(p upload.Progress) {
				if p.Phase != upload.PhaseIdle {
					logger.Printf("avatar phase=%s progress=%d%%", p.Phase, p.Percent)
				}
			})

			var req ingest.AvatarRequest
			if !remove {
				files, err := ingest.ReadFiles(args)
				if err != nil {
					return err
				}
				req.File = files[0]

				if cropSpec != "" {
					region, err := parseRegion(cropSpec)
					if err != nil {
						return err
					}
					req.Region = &region
				}
				if displaySpec != "" {
					display, err := parseDisplay(displaySpec)
					if err != nil {
						return err
					}
					req.Display = display
				}

				compress := pipeline.AvatarCompressOptions()
				compress.MaxWidthOrHeight = cfg.Pipeline.AvatarSize
				compress.MaxBytes = cfg.Pipeline.AvatarMaxBytes
				if req.Region != nil {
					compress.Quality = crop.CommitQuality
				}
				req.Compress = &compress
			}

			return withApp(cmd.Context(), cfg, logger, func(ctx context.Context, app *app) error {
				svc, err := app.service(ingest.Options{WebhookURL: cfg.Webhook.URL})
				if err != nil {
					return err
				}

				if remove {
					n, err := svc.DeleteAvatar(ctx, tracker)
					if err != nil {
						return err
					}
					return printJSON(cmd, map[string]int{"deleted": n})
				}

				asset, err := svc.UpdateAvatar(ctx, req, tracker)
				if err != nil {
					logger.Printf("avatar failed message=%q err=%v", pipeline.UserMessageFor(err), err)
					return err
				}
				return printJSON(cmd, asset)
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cropSpec, "crop", "", "crop region in percent of the displayed image as x,y,width,height")
	flags.StringVar(&displaySpec, "display", "", "displayed image size the crop refers to as WIDTHxHEIGHT (default natural size)")
	flags.BoolVar(&remove, "delete", false, "delete the stored avatar instead of uploading")
	return cmd
}

// app holds the collaborators shared by every command.
type app struct {
	cfg        config.Config
	logger     *log.Logger
	metrics    *telemetry.Metrics
	generator  *pipeline.Generator
	compressor *pipeline.Compressor
	uploader   ingest.Uploader
	assets     store.AssetStore
	webhook    *webhook.Client
}

func (a *app) service(opts ingest.Options) (*ingest.Service, error) {
	return ingest.NewService(a.logger, ingest.Deps{
		Generator:  a.generator,
		Compressor: a.compressor,
		Uploader:   a.uploader,
		Assets:     a.assets,
		Webhook:    a.webhook,
		Metrics:    a.metrics,
	}, opts)
}

// withApp builds the runtime, runs fn and tears everything down again. The
// context passed to fn is cancelled on SIGINT or SIGTERM.
func withApp(parent context.Context, cfg config.Config, logger *log.Logger, fn func(context.Context, *app) error) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := pipeline.Startup(); err != nil {
		return fmt.Errorf("start image backend: %w", err)
	}
	defer pipeline.Shutdown()
	logger.Printf("image backend=%s", pipeline.Backend())

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "wardrobeflow",
		Exporter:     cfg.Telemetry.TraceExporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
		SampleRatio:  cfg.Telemetry.SampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Printf("tracing shutdown error: %v", err)
		}
	}()

	metrics := telemetry.NewMetrics()
	defer func() {
		if cfg.Telemetry.PushgatewayURL == "" {
			return
		}
		pushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metrics.Push(pushCtx, cfg.Telemetry.PushgatewayURL, "wardrobeflow"); err != nil {
			logger.Printf("metrics push error: %v", err)
		}
	}()

	policy := retry.DefaultPolicy()
	policy.MaxAttempts = cfg.Retry.MaxAttempts
	policy.InitialDelay = cfg.Retry.InitialDelay
	policy.MaxDelay = cfg.Retry.MaxDelay

	registry := pipeline.NewRegistry("wardrobe")
	wardrobeLimits := pipeline.WardrobeLimits()
	wardrobeLimits.MaxFileSize = cfg.Pipeline.MaxWardrobeBytes
	avatarLimits := pipeline.AvatarLimits()
	avatarLimits.MaxFileSize = cfg.Pipeline.MaxAvatarBytes

	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		generator: pipeline.NewGenerator(registry,
			pipeline.WithLimits(wardrobeLimits),
			pipeline.WithRetryPolicy(policy),
			pipeline.WithObserver(metrics),
		),
		compressor: pipeline.NewCompressor(registry,
			pipeline.WithLimits(avatarLimits),
			pipeline.WithRetryPolicy(policy),
			pipeline.WithObserver(metrics),
		),
		webhook: webhook.NewClient(webhook.Config{
			SigningSecret: cfg.Webhook.SigningSecret,
			Timeout:       cfg.Webhook.Timeout,
			MaxAttempts:   cfg.Webhook.MaxAttempts,
		}),
	}
	defer func() {
		if live := registry.Live(); live > 0 {
			logger.Printf("handles still live at exit count=%d", live)
		}
	}()

	objects, err := storage.NewClient(storage.Config{
		Endpoint:      cfg.Storage.Endpoint,
		Access:        cfg.Storage.AccessKey,
		Secret:        cfg.Storage.SecretKey,
		Bucket:        cfg.Storage.Bucket,
		UseSSL:        cfg.Storage.UseSSL,
		PublicBaseURL: cfg.Storage.PublicBaseURL,
		URLExpiry:     cfg.Storage.URLExpiry,
	})
	if err != nil {
		return err
	}
	if err := objects.EnsureBucket(ctx); err != nil {
		return err
	}
	a.uploader = objects

	if cfg.Throttle.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Throttle.RedisAddr,
			Password: cfg.Throttle.RedisPassword,
			DB:       cfg.Throttle.RedisDB,
		})
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Printf("redis client close error: %v", err)
			}
		}()

		limiter, err := ratelimit.NewRedisTokenBucket(redisClient, cfg.Throttle.Uploads, cfg.Throttle.Window, "")
		if err != nil {
			return fmt.Errorf("create upload throttle: %w", err)
		}
		a.uploader = storage.NewThrottledUploader(objects, limiter, cfg.Throttle.Subject, cfg.Throttle.BytesPerToken)
		logger.Printf("upload throttle enabled limit=%d window=%s bytes_per_token=%d", cfg.Throttle.Uploads, cfg.Throttle.Window, cfg.Throttle.BytesPerToken)
	}

	if cfg.Database.DSN == "" {
		a.assets = store.NewMemoryAssetStore()
	} else {
		pg, err := store.NewPostgresAssetStore(ctx, cfg.Database.DSN)
		if err != nil {
			return err
		}
		defer func() {
			if err := pg.Close(); err != nil {
				logger.Printf("postgres close error: %v", err)
			}
		}()
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		a.assets = pg
	}

	return fn(ctx, a)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseRegion reads "x,y,width,height" in percent.
func parseRegion(spec string) (crop.Region, error) {
	parts := strings.Split(spec, ",")
	if len(parts) != 4 {
		return crop.Region{}, fmt.Errorf("crop %q: want x,y,width,height", spec)
	}
	values := make([]float64, len(parts))
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return crop.Region{}, fmt.Errorf("crop %q: %w", spec, err)
		}
		values[i] = v
	}
	return crop.Region{X: values[0], Y: values[1], Width: values[2], Height: values[3]}, nil
}

// parseDisplay reads "WIDTHxHEIGHT".
func parseDisplay(spec string) (image.Point, error) {
	w, h, ok := strings.Cut(strings.ToLower(spec), "x")
	if !ok {
		return image.Point{}, fmt.Errorf("display %q: want WIDTHxHEIGHT", spec)
	}
	width, err := strconv.Atoi(strings.TrimSpace(w))
	if err != nil {
		return image.Point{}, fmt.Errorf("display %q: %w", spec, err)
	}
	height, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil {
		return image.Point{}, fmt.Errorf("display %q: %w", spec, err)
	}
	if width <= 0 || height <= 0 {
		return image.Point{}, fmt.Errorf("display %q: sizes must be positive", spec)
	}
	return image.Pt(width, height), nil
}

package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	sqldblogger "github.com/simukti/sqldb-logger"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"k8s.io/klog/v2"

	"github.com/chroma-core/collectiongc/internal/gc"
	"github.com/chroma-core/collectiongc/internal/logservice"
	"github.com/chroma-core/collectiongc/internal/metadatastore"
	"github.com/chroma-core/collectiongc/internal/objectstore"
)

// configureTracing wires an OTLP/gRPC span exporter into the global tracer
// provider. sampleRatio trades off trace completeness against collector
// load across runs: a fleet invoking this command on every version bump of
// every collection can produce far more spans than a long-lived server
// ever would, so unlike a perpetually-sampled server this defaults to
// sampling every run but accepts a ratio below 1 for noisy deployments.
func configureTracing(ctx context.Context, res *resource.Resource, sampleRatio float64) error {
	spanExporter, err := otlptracegrpc.New(ctx)
	if err != nil {
		return err
	}

	traceProvider := trace.NewTracerProvider(
		trace.WithSpanProcessor(trace.NewBatchSpanProcessor(spanExporter)),
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(sampleRatio))),
		trace.WithResource(res),
	)

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return nil
}

func mustStringFlag(flags *pflag.FlagSet, flagName string) string {
	val, err := flags.GetString(flagName)
	if err != nil {
		panic(err)
	}
	return val
}

type sqlLoggerFunc func(ctx context.Context, level sqldblogger.Level, msg string, data map[string]any)

func (f sqlLoggerFunc) Log(ctx context.Context, level sqldblogger.Level, msg string, data map[string]any) {
	f(ctx, level, msg, data)
}

// run executes a single garbage collection orchestrator pass and exits:
// flag parsing, structured logging, and metrics server wiring are set up
// once, then the orchestrator's state machine runs to completion a single
// time instead of serving requests indefinitely.
func run() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs one pass of the garbage collection orchestrator for a single collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
				Level: slog.LevelInfo,
			}))
			slog.SetDefault(logger)

			sampleRatio, err := cmd.Flags().GetFloat64("otel-sample-ratio")
			if err != nil {
				return err
			}
			if err := configureTracing(cmd.Context(), resource.NewWithAttributes(
				semconv.SchemaURL,
				semconv.ServiceNameKey.String("collection-gc-orchestrator"),
			), sampleRatio); err != nil {
				return fmt.Errorf("failed to initialize tracing: %w", err)
			}

			cfg, err := configFromFlags(cmd.Flags())
			if err != nil {
				return fmt.Errorf("parsing orchestrator configuration: %w", err)
			}

			dsn := mustStringFlag(cmd.Flags(), "database")
			driver, err := sql.Open("postgres", dsn)
			if err != nil {
				return fmt.Errorf("opening postgres connection: %w", err)
			}
			db := sqldblogger.OpenDriver(dsn, driver.Driver(), sqlLoggerFunc(func(ctx context.Context, level sqldblogger.Level, msg string, data map[string]any) {
				slog.DebugContext(ctx, msg, slog.Any("data", data))
			}))
			metadataStore := metadatastore.NewWithDB(db)
			defer metadataStore.Close()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			objStore, err := objectstore.Open(ctx, mustStringFlag(cmd.Flags(), "bucket"))
			if err != nil {
				return fmt.Errorf("opening object store: %w", err)
			}

			var logClient gc.LogGarbageCollector = noopLogGarbageCollector{}
			if endpoint := mustStringFlag(cmd.Flags(), "log-service-endpoint"); endpoint != "" {
				client, err := logservice.Dial(endpoint, logger)
				if err != nil {
					return fmt.Errorf("dialing log service: %w", err)
				}
				defer client.Close()
				logClient = client
			}

			workers, err := cmd.Flags().GetInt("workers")
			if err != nil {
				return err
			}
			dispatcher := gc.NewDispatcher(workers)

			registry := prometheus.NewRegistry()
			metrics := gc.NewMetrics(registry)

			metricsAddr := mustStringFlag(cmd.Flags(), "metrics-addr")
			metricsMux := http.NewServeMux()
			metricsMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
			metricsSrv := &http.Server{Addr: metricsAddr, Handler: metricsMux}
			go func() {
				slog.InfoContext(ctx, "starting metrics server", slog.String("address", metricsAddr))
				if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					slog.ErrorContext(ctx, "metrics server exited", slog.Any("error", err))
				}
			}()

			orchestrator := gc.New(
				cfg,
				metadataStore,
				objStore,
				objStore,
				objStore,
				logClient,
				dispatcher,
				klog.Background(),
			)

			start := time.Now()
			resp, runErr := orchestrator.Run(ctx)
			metrics.Observe(resp, runErr, time.Since(start).Seconds())
			dispatcher.Shutdown(ctx)
			if runErr != nil {
				return fmt.Errorf("garbage collection run failed: %w", runErr)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}

	cmd.Flags().String("database", "", "Connection string to use when connecting to the metadata store database")
	cmd.Flags().String("bucket", "", "The object storage bucket holding version files, lineage files, and blobs")
	cmd.Flags().String("log-service-endpoint", "", "Address of the write-ahead log service; when empty, log garbage collection is a no-op")
	cmd.Flags().String("metrics-addr", ":9000", "The listen address to use for the metrics server")
	cmd.Flags().Int("workers", 8, "Number of concurrent workers for the orchestrator's task dispatcher")
	cmd.Flags().Float64("otel-sample-ratio", 1.0, "Fraction of traces to sample, from 0 to 1")

	cmd.Flags().String("collection-id", "", "The collection to garbage collect")
	cmd.Flags().String("version-file-path", "", "Object store path of the collection's version file")
	cmd.Flags().String("lineage-file-path", "", "Object store path of the collection's lineage file, if it is part of a fork tree")
	cmd.Flags().Duration("version-cutoff-age", 12*time.Hour, "Versions older than this age become deletion candidates once min-versions-to-keep is satisfied")
	cmd.Flags().Duration("soft-delete-cutoff-age", 72*time.Hour, "Soft-deleted collections older than this age become hard-delete candidates")
	cmd.Flags().Uint32("min-versions-to-keep", 2, "Minimum number of most recent versions to retain regardless of age")
	cmd.Flags().Bool("dry-run", true, "Log what would be deleted without performing destructive writes")
	cmd.Flags().Bool("enable-log-gc", false, "Whether to call the write-ahead log service to truncate or destroy logs")
	cmd.Flags().Bool("ignore-min-versions-for-wal3", false, "Forwarded opaquely to the log service; see the orchestrator configuration's matching field")

	return cmd
}

func configFromFlags(flags *pflag.FlagSet) (gc.Config, error) {
	collectionID, err := gc.ParseCollectionID(mustStringFlag(flags, "collection-id"))
	if err != nil {
		return gc.Config{}, fmt.Errorf("parsing collection-id: %w", err)
	}

	versionCutoffAge, err := flags.GetDuration("version-cutoff-age")
	if err != nil {
		return gc.Config{}, err
	}
	softDeleteCutoffAge, err := flags.GetDuration("soft-delete-cutoff-age")
	if err != nil {
		return gc.Config{}, err
	}
	minVersionsToKeep, err := flags.GetUint32("min-versions-to-keep")
	if err != nil {
		return gc.Config{}, err
	}
	dryRun, err := flags.GetBool("dry-run")
	if err != nil {
		return gc.Config{}, err
	}
	enableLogGC, err := flags.GetBool("enable-log-gc")
	if err != nil {
		return gc.Config{}, err
	}
	ignoreMinVersionsForWAL3, err := flags.GetBool("ignore-min-versions-for-wal3")
	if err != nil {
		return gc.Config{}, err
	}

	mode := gc.ModeDelete
	if dryRun {
		mode = gc.ModeDryRun
	}

	now := time.Now().UTC()
	return gc.Config{
		CollectionID:                           collectionID,
		VersionFilePath:                         mustStringFlag(flags, "version-file-path"),
		LineageFilePath:                         mustStringFlag(flags, "lineage-file-path"),
		VersionAbsoluteCutoffTime:               now.Add(-versionCutoffAge),
		CollectionSoftDeleteAbsoluteCutoffTime:  now.Add(-softDeleteCutoffAge),
		MinVersionsToKeep:                       minVersionsToKeep,
		CleanupMode:                             mode,
		EnableLogGC:                             enableLogGC,
		EnableDangerousOptionToIgnoreMinVersionsForWAL3: ignoreMinVersionsForWAL3,
	}, nil
}

type noopLogGarbageCollector struct{}

func (noopLogGarbageCollector) GarbageCollectLogs(ctx context.Context, req gc.DeleteUnusedLogsRequest) error {
	return nil
}

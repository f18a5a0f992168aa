package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cptnfren/teltubby/pkg/aggregator"
	"github.com/cptnfren/teltubby/pkg/bot"
	"github.com/cptnfren/teltubby/pkg/config"
	"github.com/cptnfren/teltubby/pkg/events"
	"github.com/cptnfren/teltubby/pkg/health"
	"github.com/cptnfren/teltubby/pkg/ingest"
	"github.com/cptnfren/teltubby/pkg/log"
	"github.com/cptnfren/teltubby/pkg/metrics"
	"github.com/cptnfren/teltubby/pkg/objectstore"
	"github.com/cptnfren/teltubby/pkg/queue"
	"github.com/cptnfren/teltubby/pkg/quota"
	"github.com/cptnfren/teltubby/pkg/store"
	"github.com/cptnfren/teltubby/pkg/transport"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "teltubby",
	Short: "teltubby archives Telegram media curated through a private bot chat",
	Long: `teltubby is a Telegram media archival bot: curators forward photos,
videos, and documents to a private chat, and every item is deduplicated,
laid out by date and chat, and committed to S3-compatible object storage
alongside a message.json manifest.`,
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"teltubby version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
		Output:     os.Stdout,
	})
	metrics.SetVersion(Version)
	log.Logger.Info().Str("version", Version).Msg("teltubby starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.NewBoltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open local store: %w", err)
	}
	defer st.Close()
	metrics.RegisterComponent("store", true, "")

	objects, err := objectstore.NewGateway(ctx, objectstore.Config{
		Endpoint: cfg.S3Endpoint, AccessKey: cfg.S3AccessKey, SecretKey: cfg.S3SecretKey,
		Bucket: cfg.S3Bucket, UseSSL: cfg.S3UseSSL, Region: cfg.S3Region, QuotaBytes: cfg.QuotaBytes,
	})
	if err != nil {
		return fmt.Errorf("connect object store: %w", err)
	}

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	gate := quota.New(objects, 15*time.Second)
	gate.SetBroker(broker)
	gate.Start()
	defer gate.Stop()
	metrics.RegisterComponent("quota_gate", true, "")

	readiness := health.NewMonitor(20*time.Second, metrics.UpdateComponent)
	readiness.Register("object_store", health.NewObjectStoreChecker(cfg.S3Endpoint, cfg.S3UseSSL), health.DefaultConfig())

	var enqueuer *queue.Client
	if cfg.AMQPURL != "" {
		enqueuer, err = queue.New(cfg.AMQPURL, st)
		if err != nil {
			return fmt.Errorf("connect broker: %w", err)
		}
		defer enqueuer.Close()
		metrics.RegisterComponent("broker", true, "")
		if addr, err := amqpHost(cfg.AMQPURL); err == nil {
			readiness.Register("broker", health.NewTCPChecker(addr), health.DefaultConfig())
		}
	} else {
		metrics.RegisterComponent("broker", false, "TELTUBBY_AMQP_URL not set, queue routing disabled")
	}
	readiness.Start(ctx)
	defer readiness.Stop()

	bt, err := transport.New(cfg.BotToken, cfg.CuratorIDs, cfg.AdminIDs, time.Duration(cfg.IOTimeoutSeconds)*time.Second)
	if err != nil {
		return fmt.Errorf("connect bot transport: %w", err)
	}

	pipeline := ingest.New(st, objects, bt, gate, enqueuerOrNil(enqueuer), cfg.S3Bucket, ingest.Config{
		MaxFileBytes:     int64(cfg.MaxFileGB) * 1024 * 1024 * 1024,
		InlineLimitBytes: cfg.InlineLimitBytes,
		JobMaxRetries:    cfg.JobMaxRetries,
	})
	pipeline.SetBroker(broker)

	var jobStore bot.JobStore
	if enqueuer != nil {
		jobStore = enqueuer
	}
	handler := bot.New(bt, pipeline, jobStore, st, cfg.AlbumWindowSeconds, aggregator.DefaultMaxItems)
	go handler.ConsumeEvents(ctx, broker)

	collector := metrics.NewCollector(st, objects)
	collector.Start()
	defer collector.Stop()

	healthSrv := startHealthServer(cfg.HealthPort)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = healthSrv.Shutdown(shutdownCtx)
	}()

	metrics.RegisterComponent("bot", true, "")
	handler.Run(ctx)

	log.Logger.Info().Msg("teltubby shutting down")
	return nil
}

// amqpHost extracts the host:port a TCP readiness probe can dial directly
// from an amqp:// connection URL.
func amqpHost(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return u.Host, nil
}

// enqueuerOrNil returns a nil ingest.Enqueuer (not just a nil *queue.Client
// stored in a non-nil interface) when the broker isn't configured, so the
// pipeline's own nil check behaves correctly.
func enqueuerOrNil(c *queue.Client) ingest.Enqueuer {
	if c == nil {
		return nil
	}
	return c
}

func startHealthServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/healthz", metrics.HealthHandler())
	mux.Handle("/readyz", metrics.ReadyHandler())
	mux.Handle("/livez", metrics.LivenessHandler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Logger.Error().Err(err).Msg("health server failed")
		}
	}()
	return srv
}

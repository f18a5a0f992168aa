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

	"github.com/cptnfren/teltubby/pkg/config"
	"github.com/cptnfren/teltubby/pkg/events"
	"github.com/cptnfren/teltubby/pkg/health"
	"github.com/cptnfren/teltubby/pkg/log"
	"github.com/cptnfren/teltubby/pkg/metrics"
	"github.com/cptnfren/teltubby/pkg/objectstore"
	"github.com/cptnfren/teltubby/pkg/queue"
	"github.com/cptnfren/teltubby/pkg/quota"
	"github.com/cptnfren/teltubby/pkg/store"
	"github.com/cptnfren/teltubby/pkg/transport"
	"github.com/cptnfren/teltubby/pkg/worker"
)

var (
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
	Use:   "teltubby-worker",
	Short: "teltubby-worker resolves oversize media jobs queued by the teltubby bot",
	Long: `teltubby-worker consumes the large_files queue and archives each job
through the user-protocol Telegram session, the same dedup/upload/commit
path the bot uses inline for smaller media.`,
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"teltubby-worker version %s\nCommit: %s\nBuilt: %s\n",
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
	log.Logger.Info().Str("version", Version).Msg("teltubby-worker starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Deployment note: bbolt allows only one process to hold the file open
	// at a time, so the worker must run colocated with the bot against the
	// same data directory rather than across separate hosts.
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

	evtBroker := events.NewBroker()
	evtBroker.Start()
	defer evtBroker.Stop()

	gate := quota.New(objects, 15*time.Second)
	gate.SetBroker(evtBroker)
	gate.Start()
	defer gate.Stop()
	metrics.RegisterComponent("quota_gate", true, "")

	queueClient, err := queue.New(cfg.AMQPURL, st)
	if err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer queueClient.Close()
	metrics.RegisterComponent("broker", true, "")

	readiness := health.NewMonitor(20*time.Second, metrics.UpdateComponent)
	readiness.Register("object_store", health.NewObjectStoreChecker(cfg.S3Endpoint, cfg.S3UseSSL), health.DefaultConfig())
	if addr, err := amqpHost(cfg.AMQPURL); err == nil {
		readiness.Register("broker", health.NewTCPChecker(addr), health.DefaultConfig())
	}
	readiness.Start(ctx)
	defer readiness.Stop()

	userTransport := transport.NewUser(cfg.UserAPIID, cfg.UserAPIHash, cfg.UserSessionDir)
	if err := userTransport.Start(ctx); err != nil {
		return fmt.Errorf("start user-protocol session: %w", err)
	}

	botNotifier, err := transport.New(cfg.BotToken, cfg.CuratorIDs, cfg.AdminIDs, time.Duration(cfg.IOTimeoutSeconds)*time.Second)
	if err != nil {
		return fmt.Errorf("connect bot transport for notifications: %w", err)
	}

	w := worker.New(st, objects, queueClient, userTransport, gate, botNotifier, worker.Config{
		Bucket:      cfg.S3Bucket,
		Concurrency: cfg.WorkerConcurrency,
	})
	w.SetBroker(evtBroker)
	go consumeEvents(ctx, evtBroker, botNotifier)

	healthSrv := startHealthServer(cfg.HealthPort)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = healthSrv.Shutdown(shutdownCtx)
	}()

	metrics.RegisterComponent("worker", true, "")
	if err := w.Run(ctx); err != nil {
		return fmt.Errorf("worker run: %w", err)
	}

	log.Logger.Info().Msg("teltubby-worker shutting down")
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

// consumeEvents forwards quota gate transitions to admins. Job outcomes and
// session holds are already notified directly by the worker itself; this
// loop only covers the one event class with no other notification path in
// this process.
func consumeEvents(ctx context.Context, broker *events.Broker, notifier *transport.BotTransport) {
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub:
			if !ok {
				return
			}
			if evt.Type == events.EventQuotaGateOpened || evt.Type == events.EventQuotaGateClosed {
				_ = notifier.NotifyAdmins(ctx, string(evt.Type)+": "+evt.Message)
			}
		}
	}
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

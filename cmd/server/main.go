package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"enforce/internal/consent"
	"enforce/internal/enforce"
	"enforce/internal/environment"
	"enforce/internal/errorreport"
	"enforce/internal/platform/config"
	"enforce/internal/platform/httpserver"
	"enforce/internal/platform/kafka"
	"enforce/internal/platform/logger"
	"enforce/internal/platform/metrics"
	"enforce/internal/platform/postgres"
	"enforce/internal/platform/redis"
	"enforce/internal/reporting"
	httptransport "enforce/internal/transport/http"
	"enforce/internal/version"
	"enforce/pkg/platform/circuit"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to a YAML config file")
	envFile := pflag.String("env-file", ".env", "dotenv file loaded before the environment is read")
	pflag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

// run wires dependencies, serves until ctx is cancelled and then drains
// queued beacons.
func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	m := metrics.New()

	var handlerOpts []httptransport.Option
	backend, closeBackend, err := openBackend(ctx, cfg, log, &handlerOpts)
	if err != nil {
		return err
	}
	defer closeBackend()

	store, err := consent.New(backend,
		consent.WithLogger(log),
		consent.WithMetrics(consent.NewMetrics(m.Registry)),
	)
	if err != nil {
		return err
	}

	var coord *enforce.Coordinator
	breaker := circuit.New("beacons",
		circuit.WithFailureThreshold(cfg.Reporting.FailureThreshold),
		circuit.WithCooldown(cfg.Reporting.Cooldown),
	)
	dispatcher, err := reporting.NewDispatcher(
		reporting.NewHTTPTransport(reporting.WithTransportLogger(log)),
		reporting.WithWorkers(cfg.Reporting.Workers),
		reporting.WithQueueSize(cfg.Reporting.QueueSize),
		reporting.WithSendTimeout(cfg.Reporting.Timeout),
		reporting.WithBreaker(breaker),
		reporting.WithMetrics(reporting.NewMetrics(m.Registry)),
		reporting.WithLogger(log),
		reporting.WithFailureHandler(func(ctx context.Context, req reporting.Request, err error) {
			coord.BeaconFailed(ctx, req, err)
		}),
	)
	if err != nil {
		return err
	}

	reporter := errorreport.New(
		errorreport.WithLogger(log),
		errorreport.WithApp(errorreport.App{Name: "enforce-server", Version: version.SDK}),
	)

	coord, err = enforce.New(store, environment.NewHTTPFetcher(environment.WithLogger(log)),
		enforce.WithPresenter(logPresenter{logger: log}),
		enforce.WithBeaconSink(dispatcher),
		enforce.WithErrorReporter(reporter),
		enforce.WithLogger(log),
		enforce.WithMetrics(m),
	)
	if err != nil {
		return err
	}

	if len(cfg.Kafka.Brokers) > 0 {
		pub, err := kafka.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, kafka.WithLogger(log))
		if err != nil {
			return err
		}
		defer pub.Close(context.WithoutCancel(ctx))
		if err := pub.EnsureTopic(ctx, cfg.Kafka.Partitions, cfg.Kafka.ReplicationFactor); err != nil {
			return err
		}
		coord.OnConsent(enforce.PublishSnapshots(coord, pub, cfg.Reporting.Timeout, log))
		log.Info("consent stream enabled", "topic", pub.Topic())
	}

	if cfg.Enforce.ClientName != "" {
		enforceCfg, err := enforceConfig(cfg.Enforce)
		if err != nil {
			return err
		}
		if err := coord.Configure(ctx, enforceCfg); err != nil {
			return err
		}
	}

	handlerOpts = append(handlerOpts,
		httptransport.WithLogger(log),
		httptransport.WithMetrics(m),
		httptransport.WithRequestTimeout(cfg.Server.RequestTimeout),
	)
	srv := httpserver.New(cfg.Server, httptransport.NewRouter(httptransport.NewHandler(coord, handlerOpts...)))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting enforce server", "addr", cfg.Server.Addr, "storage", cfg.Storage.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return drain(shutdownCtx, coord, dispatcher)
	})
	return g.Wait()
}

// drain lets pending fetches enqueue their beacons, flushes the dispatcher,
// then waits for error reports raised by beacons that failed while flushing.
func drain(ctx context.Context, coord interface{ Wait() }, beacons interface{ Close(context.Context) error }) error {
	coord.Wait()
	err := beacons.Close(ctx)
	coord.Wait()
	if err != nil {
		return fmt.Errorf("drain beacons: %w", err)
	}
	return nil
}

// openBackend selects the consent backend and registers its health check.
func openBackend(ctx context.Context, cfg config.Config, log *slog.Logger, opts *[]httptransport.Option) (consent.Backend, func(), error) {
	switch cfg.Storage.Backend {
	case "redis":
		client, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		*opts = append(*opts, httptransport.WithHealthCheck("redis", client.Health))
		backend := consent.NewRedisBackend(client.Client, consent.WithKeyPrefix(cfg.Storage.KeyPrefix))
		return backend, func() { _ = client.Close() }, nil
	case "postgres":
		db, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		backend := consent.NewPostgresBackend(db, consent.WithStorageKey(cfg.Storage.KeyPrefix))
		if err := backend.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		*opts = append(*opts, httptransport.WithHealthCheck("postgres", db.PingContext))
		return txBackend{PostgresBackend: backend, tx: newConsentPostgresTx(db)}, func() { _ = db.Close() }, nil
	default:
		log.Warn("using in-memory consent storage; decisions are lost on restart")
		return consent.NewMemoryBackend(), func() {}, nil
	}
}

func enforceConfig(c config.Enforce) (enforce.Config, error) {
	appearance, err := enforce.ParseAppearance(c.Appearance)
	if err != nil {
		return enforce.Config{}, err
	}
	opts := []enforce.ConfigOption{
		enforce.WithDebug(c.Debug),
		enforce.WithAppearance(appearance),
		enforce.WithDefaultConsent(c.DefaultConsent),
	}
	if c.DataRetention > 0 {
		opts = append(opts, enforce.WithDataRetention(c.DataRetention))
	}
	if c.AutoShow != nil {
		opts = append(opts, enforce.WithAutoShow(*c.AutoShow))
	}
	if c.Version != "" {
		opts = append(opts, enforce.WithVersion(c.Version))
	}
	return enforce.NewConfig(c.ClientName, c.PublishPath, c.Environment, opts...), nil
}

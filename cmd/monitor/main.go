package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"fleet-monitor/monitor/internal/alerts"
	"fleet-monitor/monitor/internal/config"
	"fleet-monitor/monitor/internal/domain"
	"fleet-monitor/monitor/internal/geocode"
	"fleet-monitor/monitor/internal/ingest"
	"fleet-monitor/monitor/internal/monitor"
	"fleet-monitor/monitor/internal/notify"
	"fleet-monitor/monitor/internal/pipeline"
	"fleet-monitor/monitor/internal/scoring"
	"fleet-monitor/monitor/internal/stops"
	"fleet-monitor/monitor/internal/store"
	transport "fleet-monitor/monitor/internal/transport/http"
	"fleet-monitor/monitor/internal/trips"
	"fleet-monitor/monitor/internal/zones"
)

func main() {
	envErr := godotenv.Load()

	cfg := config.Load()
	logger := newLogger(cfg)
	if envErr != nil {
		logger.Debug("dotenv_not_loaded", slog.Any("error", envErr))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service_terminated", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("service_stopped")
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	pg, err := store.NewPostgresStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer pg.Close()

	rdb, err := store.NewRedisStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = rdb.Close() }()

	sqlDB := pg.SQLDB()
	defer func() { _ = sqlDB.Close() }()
	catalog := store.NewCatalog(sqlDB, logger)

	zoneCache := zones.NewCache(catalog, logger)
	tripCache := trips.NewCache(catalog, trips.ParseDriverMatchStrategy(cfg.DriverMatch), logger)

	geocoder := geocode.NewCache(rdb, nil, cfg.GeocodeCacheTTL, logger)
	evaluator := zones.NewEvaluator(zoneCache, logger,
		zones.WithGeocoder(geocoder),
		zones.WithProximity(cfg.ProximityMeters),
	)

	detector := stops.NewDetector(stops.Config{
		SpeedThresholdKmh: cfg.StopSpeedKmh,
		RadiusMeters:      cfg.StopRadiusMeters,
		MinDuration:       cfg.StopMinDuration,
	})

	debouncer := alerts.NewDebouncer(map[domain.AlertCategory]time.Duration{
		domain.AlertTollGate:         cfg.CooldownTollGate,
		domain.AlertHighRisk:         cfg.CooldownHighRisk,
		domain.AlertBorder:           cfg.CooldownBorder,
		domain.AlertUnauthorizedStop: cfg.CooldownStop,
	}, logger)

	scorer := scoring.NewScorer(scoringConfig(cfg), logger)
	persisted, err := pg.LoadDriverScores(ctx)
	if err != nil {
		// scores start from full points rather than blocking startup
		logger.Warn("driver_scores_restore_failed", slog.Any("error", err))
	} else {
		logger.Info("driver_scores_restored", slog.Int("drivers", scorer.Restore(persisted)))
	}

	notifier, closeNotifiers, err := buildNotifier(cfg, rdb, logger)
	if err != nil {
		return err
	}
	defer closeNotifiers()

	alertWriter := pipeline.NewAlertWriter(pg, cfg.AlertChannelSize, cfg.AlertBatchSize, cfg.AlertFlushIntervalMS, logger)
	outbox := pipeline.NewOutbox(alertWriter, notifier, pg, cfg.OutboxWorkers, cfg.OutboxQueueSize, cfg.NotifyTimeout, logger)
	flusher := pipeline.NewScoreFlusher(scorer, pg, cfg.ScoreFlushInterval, cfg.SnapshotHour, cfg.ClockOffset, logger)

	m := monitor.New(monitor.Config{
		SweepInterval:       cfg.CooldownSweepInterval,
		ZoneRefreshInterval: cfg.ZoneRefreshInterval,
		TripRefreshInterval: cfg.TripRefreshInterval,
		Workers:             cfg.DispatchWorkers,
		QueueSize:           cfg.DispatchQueueSize,
	}, monitor.Deps{
		Trips:       tripCache,
		Zones:       zoneCache,
		Evaluator:   evaluator,
		Stops:       detector,
		Debouncer:   debouncer,
		Scorer:      scorer,
		Alerts:      alertWriter,
		Outbox:      outbox,
		Flusher:     flusher,
		TripChanges: rdb.SubscribeTripChanges(ctx, cfg.TripChangeChannel, logger),
	}, logger)

	// start with whatever loaded; the refresh loops in Run retry the rest
	_ = m.Prime(ctx)

	handler := ingest.NewHandler(m, logger)

	src, closeSource, err := buildSource(cfg, handler, logger)
	if err != nil {
		return err
	}
	defer closeSource()

	health := transport.NewHealthChecker(map[string]transport.Pinger{
		"postgres": pg,
		"redis":    rdb,
	})
	ops := transport.NewServer(cfg.HTTPPort, transport.NewRouter(health), logger)

	logger.Info("service_boot",
		slog.String("telemetry_source", cfg.TelemetrySource),
		slog.String("notifiers", strings.Join(cfg.Notifiers, ",")),
		slog.Int("dispatch_workers", cfg.DispatchWorkers),
		slog.Int("trips", tripCache.Len()),
		slog.Int("zones", zoneCache.Len()),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.Run(gctx, src) })
	g.Go(func() error { return ops.Run(gctx) })
	return g.Wait()
}

func scoringConfig(cfg *config.Config) scoring.Config {
	sc := scoring.DefaultConfig()
	for category := range sc.Thresholds {
		sc.Thresholds[category] = cfg.ViolationThreshold
	}
	sc.SpeedLimitKmh = cfg.SpeedLimitKmh
	sc.NightStartHour = cfg.NightStartHour
	sc.NightEndHour = cfg.NightEndHour
	sc.ClockOffset = cfg.ClockOffset
	return sc
}

func buildNotifier(cfg *config.Config, rdb *store.RedisStore, logger *slog.Logger) (notify.Notifier, func(), error) {
	var out notify.Multi
	var closers []func()

	if cfg.HasNotifier("redis") {
		out = append(out, notify.NewRedisPublisher(rdb.Client(), cfg.AlertChannel))
	}
	if cfg.HasNotifier("rabbitmq") {
		conn, err := notify.Dial(cfg.RabbitURL)
		if err != nil {
			return nil, nil, err
		}
		pub, err := notify.NewRabbitPublisher(conn, cfg.RabbitExchange)
		if err != nil {
			_ = conn.Close()
			return nil, nil, err
		}
		out = append(out, pub)
		closers = append(closers, func() { _ = pub.Close() })
	}

	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	if len(out) == 0 {
		logger.Warn("no_notifiers_configured")
		return nil, closeAll, nil
	}
	return out, closeAll, nil
}

func buildSource(cfg *config.Config, handler *ingest.Handler, logger *slog.Logger) (monitor.Runner, func(), error) {
	switch cfg.TelemetrySource {
	case "kafka":
		src, err := ingest.NewKafkaSource(ingest.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			GroupID: cfg.KafkaGroupID,
		}, handler, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("kafka source: %w", err)
		}
		return src, func() { _ = src.Close() }, nil
	case "mqtt":
		client, err := ingest.NewMQTTClient(cfg.MQTTBroker, cfg.MQTTClientID, logger)
		if err != nil {
			return nil, nil, err
		}
		return ingest.NewMQTTSource(client, cfg.MQTTTopic, cfg.MQTTQoS, handler, logger), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown TELEMETRY_SOURCE %q", cfg.TelemetrySource)
	}
}

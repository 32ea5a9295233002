package app

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Astemirdum/library-circulation/circulation/config"
	"github.com/Astemirdum/library-circulation/circulation/internal/allocator"
	"github.com/Astemirdum/library-circulation/circulation/internal/handler"
	"github.com/Astemirdum/library-circulation/circulation/internal/notifier"
	"github.com/Astemirdum/library-circulation/circulation/internal/repository"
	"github.com/Astemirdum/library-circulation/circulation/internal/rules"
	"github.com/Astemirdum/library-circulation/circulation/internal/server"
	"github.com/Astemirdum/library-circulation/circulation/internal/service"
	"github.com/Astemirdum/library-circulation/circulation/internal/sweeper"
	"github.com/Astemirdum/library-circulation/circulation/migrations"
	cb "github.com/Astemirdum/library-circulation/pkg/circuit_breaker"
	"github.com/Astemirdum/library-circulation/pkg/kafka"
	"github.com/Astemirdum/library-circulation/pkg/logger"
	"github.com/Astemirdum/library-circulation/pkg/postgres"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type closer func()

type engine struct {
	svc       *service.Service
	scheduler *sweeper.Scheduler
	notifier  *notifier.Notifier
	closers   []closer
}

func (e *engine) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

func newRepository(ctx context.Context, cfg *config.Config, log *zap.Logger) (repository.Repository, closer, error) {
	switch cfg.Store {
	case config.StoreMemory:
		log.Warn("in-memory store, state is lost on exit")
		return repository.NewMemoryRepository(), func() {}, nil
	case config.StorePostgres:
		db, err := postgres.NewPostgresDB(ctx, &cfg.Database, migrations.MigrationFiles)
		if err != nil {
			return nil, nil, errors.Wrap(err, "db init")
		}
		repo, err := repository.NewRepository(db, log)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return repo, func() { _ = db.Close() }, nil
	default:
		return nil, nil, errors.Errorf("unknown store %q", cfg.Store)
	}
}

// build wires the engine. With withBroker the availability sink and the
// circulation event log are connected to Kafka.
func build(ctx context.Context, cfg *config.Config, log *zap.Logger, withBroker bool) (*engine, error) {
	e := &engine{}
	repo, closeRepo, err := newRepository(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	e.closers = append(e.closers, closeRepo)

	var (
		sinks  []notifier.Sink
		events service.EventLog
	)
	if withBroker && cfg.Kafka.Enabled() {
		producer, err := kafka.NewProducer(cfg.Kafka)
		if err != nil {
			e.close()
			return nil, errors.Wrap(err, "kafka.NewProducer")
		}
		e.closers = append(e.closers, func() { _ = producer.Close() })
		sinks = append(sinks, handler.NewAvailabilitySink(handler.NewEnqueuer(producer), cb.New(cfg.CB)))

		async, err := kafka.NewAsyncProducer(cfg.Kafka)
		if err != nil {
			e.close()
			return nil, errors.Wrap(err, "kafka.NewAsyncProducer")
		}
		e.closers = append(e.closers, func() { _ = async.Close() })
		events = handler.NewEventLog(async, kafka.CirculationTopic, log)
	}

	r := rules.New(cfg.Rules)
	alloc := allocator.New(r, log)
	e.notifier = notifier.New(repo.AvailableCount, log, notifier.WithSinks(sinks...))
	e.closers = append(e.closers, e.notifier.Close)

	e.svc = service.NewService(repo, r, alloc, e.notifier, log, service.WithEventLog(events))
	e.scheduler, err = sweeper.NewScheduler(sweeper.Deps{
		Repo:      repo,
		Rules:     r,
		Allocator: alloc,
		Notifier:  e.notifier,
		Events:    events,
		Log:       log,
	}, cfg.Sweep.At)
	if err != nil {
		e.close()
		return nil, err
	}
	return e, nil
}

func Run(cfg *config.Config) {
	log := logger.NewLogger(cfg.Log, "circulation")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng, err := build(ctx, cfg, log, true)
	if err != nil {
		log.Fatal("build", zap.Error(err))
	}
	defer eng.close()

	if cfg.Kafka.Enabled() {
		group, err := kafka.NewConsumer(cfg.Kafka, kafka.CirculationConsumerGroup)
		if err != nil {
			log.Fatal("kafka.NewConsumer", zap.Error(err))
		}
		defer group.Close()
		go func() {
			if err := kafka.Consume(ctx, group, handler.NewConsumer(eng.svc.ReleaseCopy, log), kafka.CopyReleasedTopic); err != nil {
				log.Error("kafka.Consume", zap.Error(err))
			}
		}()
	}

	go func() {
		if err := eng.scheduler.Run(ctx); err != nil {
			log.Error("scheduler", zap.Error(err))
		}
	}()

	h := handler.New(eng.svc, eng.scheduler, log)
	srv := server.NewServer(ctx, cfg.Server, h.NewRouter())
	log.Info("http server start ON: ",
		zap.String("addr",
			net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)))
	go func() {
		if err := srv.Run(); err != nil {
			log.Error("server run", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	termSig := <-sig

	log.Debug("Graceful shutdown", zap.Any("signal", termSig))

	closeCtx, closeCancel := context.WithTimeout(context.Background(), time.Second*5)
	defer closeCancel()

	cancel()
	if err = srv.Stop(closeCtx); err != nil {
		log.DPanic("srv.Stop", zap.Error(err))
	}
	log.Info("Graceful shutdown finished")
}

// Sweep runs both sweep passes once and returns their report.
func Sweep(ctx context.Context, cfg *config.Config) error {
	log := logger.NewLogger(cfg.Log, "circulation")
	eng, err := build(ctx, cfg, log, true)
	if err != nil {
		return err
	}
	defer eng.close()

	rep, err := eng.scheduler.Sweep(ctx)
	log.Info("sweep finished",
		zap.Int("overdue", rep.Overdue.Processed),
		zap.Int("overdueFailed", rep.Overdue.Failed),
		zap.Int("expired", rep.Expiry.Processed),
		zap.Int("expiredFailed", rep.Expiry.Failed))
	return err
}

// Migrate applies pending migrations and exits.
func Migrate(ctx context.Context, cfg *config.Config) error {
	db, err := postgres.NewPostgresDB(ctx, &cfg.Database, migrations.MigrationFiles)
	if err != nil {
		return err
	}
	return db.Close()
}

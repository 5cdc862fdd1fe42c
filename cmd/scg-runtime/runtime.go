package main

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/next-trace/scg-service-runtime/adapters/inmemory"
	"github.com/next-trace/scg-service-runtime/adapters/kafka"
	natsadapter "github.com/next-trace/scg-service-runtime/adapters/nats"
	"github.com/next-trace/scg-service-runtime/adapters/postgres"
	"github.com/next-trace/scg-service-runtime/adapters/rabbitmq"
	"github.com/next-trace/scg-service-runtime/codec"
	cbus "github.com/next-trace/scg-service-runtime/contract/bus"
	"github.com/next-trace/scg-service-runtime/saga"
	"github.com/next-trace/scg-service-runtime/servicebus"
	"github.com/next-trace/scg-service-runtime/telemetry"
)

// runtimeEnv owns the transport, sinks and telemetry of one process.
type runtimeEnv struct {
	cfg       config
	logger    *slog.Logger
	transport cbus.Transport
	metrics   *telemetry.Metrics
	options   []servicebus.Option
	cleanups  []func()
}

func newRuntimeEnv(ctx context.Context, cfg config, logger *slog.Logger) (_ *runtimeEnv, err error) {
	env := &runtimeEnv{cfg: cfg, logger: logger, metrics: telemetry.NewMetrics()}

	defer func() {
		if err != nil {
			env.Close()
		}
	}()

	c, err := codec.ByName(cfg.Codec)
	if err != nil {
		return nil, err
	}

	propagator := telemetry.NewPropagator()

	env.options = []servicebus.Option{
		servicebus.WithCodec(c),
		servicebus.WithObserver(env.metrics),
		servicebus.WithPropagator(propagator),
		servicebus.WithCallTimeout(cfg.CallTimeout),
	}

	shutdown, err := telemetry.SetupTracing(ctx, cfg.OTLPEndpoint, cfg.Service, logger)
	if err != nil {
		return nil, err
	}

	env.cleanups = append(env.cleanups, func() { _ = shutdown(context.WithoutCancel(ctx)) })

	if err := env.openTransport(); err != nil {
		return nil, err
	}

	if cfg.RabbitMQURL != "" {
		ad, cleanup, err := rabbitmq.NewWithAMQPConn(rabbitmq.Config{URL: cfg.RabbitMQURL})
		if err != nil {
			return nil, err
		}

		ad.Propagator = propagator
		env.cleanups = append(env.cleanups, cleanup)
		env.options = append(env.options, servicebus.WithEventSink(ad))
	}

	if len(cfg.KafkaBrokers) > 0 {
		ad, cleanup, err := kafka.NewWithKgo(kafka.Config{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic, ClientID: cfg.Service})
		if err != nil {
			return nil, err
		}

		ad.Propagator = propagator
		env.cleanups = append(env.cleanups, cleanup)
		env.options = append(env.options, servicebus.WithEventSink(ad))
	}

	return env, nil
}

func (e *runtimeEnv) openTransport() error {
	switch e.cfg.Transport {
	case "nats":
		ad, cleanup, err := natsadapter.NewWithNATS(natsadapter.Config{URL: e.cfg.NATSURL, Name: e.cfg.Service})
		if err != nil {
			return err
		}

		e.transport = ad
		e.cleanups = append(e.cleanups, cleanup)
	default:
		tr := inmemory.New()
		e.transport = tr
		e.cleanups = append(e.cleanups, func() { _ = tr.Close() })
	}

	return nil
}

// dispatcher builds a dispatcher for service with the process-wide options.
func (e *runtimeEnv) dispatcher(service string, extra ...servicebus.Option) *servicebus.Dispatcher {
	opts := append(slices.Clone(e.options), extra...)

	return servicebus.New(service, e.transport, e.logger, opts...)
}

// journal returns the Postgres journal when a DSN is configured, nil otherwise.
func (e *runtimeEnv) journal(ctx context.Context) (saga.Journal, error) { //nolint:ireturn
	if e.cfg.JournalDSN == "" {
		return nil, nil //nolint:nilnil
	}

	db, err := postgres.Connect(ctx, e.cfg.JournalDSN)
	if err != nil {
		return nil, fmt.Errorf("saga journal: %w", err)
	}

	e.cleanups = append(e.cleanups, func() { _ = postgres.Close(db) })

	j := postgres.NewJournal(db, e.logger)
	if err := j.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("saga journal: %w", err)
	}

	return j, nil
}

// Close runs cleanups in reverse order of acquisition.
func (e *runtimeEnv) Close() {
	for i := len(e.cleanups) - 1; i >= 0; i-- {
		e.cleanups[i]()
	}

	e.cleanups = nil
}

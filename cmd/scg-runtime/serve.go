package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/next-trace/scg-service-runtime/examples/bank"
	"github.com/next-trace/scg-service-runtime/saga"
	"github.com/next-trace/scg-service-runtime/servicebus"
)

const (
	sagaService     = "sagas"
	shutdownTimeout = 30 * time.Second
)

var allServices = []string{bank.AccountsService, bank.NotificationsService, sagaService}

func newServeCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Host the bank services and the saga service until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, env, err := setup(v, cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			services := splitList(v.GetStringSlice("services"))
			for _, s := range services {
				if !slices.Contains(allServices, s) {
					return fmt.Errorf("unknown service %q (want one of %v)", s, allServices)
				}
			}

			return serve(cmd.Context(), cfg, env, services, v.GetDuration("retry-delay"))
		},
	}

	cmd.Flags().StringSlice("services", allServices, "services hosted by this process")
	cmd.Flags().Duration("retry-delay", 0, "retry delay of the built-in transfer saga (0 keeps the default)")
	bindFlags(v, cmd)

	return cmd
}

func serve(ctx context.Context, cfg config, env *runtimeEnv, services []string, retryDelay time.Duration) error {
	var (
		dispatchers []*servicebus.Dispatcher
		coordinator *saga.Coordinator
	)

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if coordinator != nil {
			if err := coordinator.Close(shutdownCtx); err != nil {
				env.logger.Warn("serve.saga_shutdown", "error", err)
			}
		}

		for _, d := range slices.Backward(dispatchers) {
			_ = d.Close()
		}
	}()

	for _, name := range services {
		d := env.dispatcher(name)
		dispatchers = append(dispatchers, d)

		switch name {
		case bank.AccountsService:
			if err := bank.NewAccounts(demoBalances()).Register(d); err != nil {
				return err
			}
		case bank.NotificationsService:
			if err := bank.NewNotifications().Register(d); err != nil {
				return err
			}
		case sagaService:
			c, err := newCoordinator(ctx, cfg, env, d, retryDelay)
			if err != nil {
				return err
			}

			coordinator = c
		}
	}

	for _, d := range dispatchers {
		if err := d.Start(ctx); err != nil {
			return err
		}
	}

	stopMetrics := startMetricsServer(cfg.MetricsListen, env)
	defer stopMetrics()

	env.logger.InfoContext(ctx, "serve.ready", "transport", cfg.Transport, "services", services)

	<-ctx.Done()

	env.logger.Info("serve.stopping")

	return nil
}

func newCoordinator(
	ctx context.Context,
	cfg config,
	env *runtimeEnv,
	d *servicebus.Dispatcher,
	retryDelay time.Duration,
) (*saga.Coordinator, error) {
	journal, err := env.journal(ctx)
	if err != nil {
		return nil, err
	}

	c := saga.New(d, env.logger.With("component", "saga"),
		saga.WithJournal(journal),
		saga.WithObserver(env.metrics),
	)

	if err := c.DefineSaga(bank.TransferSaga, bank.TransferSteps(retryDelay)); err != nil {
		return nil, err
	}

	if cfg.Sagas != "" {
		defs, err := saga.LoadFile(cfg.Sagas)
		if err != nil {
			return nil, err
		}

		if err := c.DefineAll(defs); err != nil {
			return nil, err
		}
	}

	if err := saga.RegisterService(d, c); err != nil {
		return nil, err
	}

	return c, nil
}

func startMetricsServer(addr string, env *runtimeEnv) func() {
	if addr == "" {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", env.metrics.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			env.logger.Error("serve.metrics_failed", "addr", addr, "error", err)
		}
	}()

	env.logger.Info("serve.metrics_listening", "addr", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = srv.Shutdown(ctx)
	}
}

func demoBalances() map[string]float64 {
	return map[string]float64{"ACC-1": 1000, "ACC-2": 500}
}

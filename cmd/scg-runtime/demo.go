package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	berr "github.com/next-trace/scg-service-runtime/contract/errors"
	"github.com/next-trace/scg-service-runtime/examples/bank"
	"github.com/next-trace/scg-service-runtime/saga"
	"github.com/next-trace/scg-service-runtime/servicebus"
)

const demoRetryDelay = 10 * time.Millisecond

func newDemoCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run the transfer scenarios against in-process services",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, env, err := setup(v, cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			return runDemo(cmd.Context(), env, cmd.OutOrStdout())
		},
	}
}

type scenario struct {
	name string
	run  func(ctx context.Context) (string, error)
}

func runDemo(ctx context.Context, env *runtimeEnv, out io.Writer) error {
	accounts := bank.NewAccounts(demoBalances())
	notifications := bank.NewNotifications()

	accountsD := env.dispatcher(bank.AccountsService)
	notifyD := env.dispatcher(bank.NotificationsService)
	sagaD := env.dispatcher(sagaService)
	client := env.dispatcher(env.cfg.Service)
	dispatchers := []*servicebus.Dispatcher{accountsD, notifyD, sagaD, client}

	coordinator := saga.New(sagaD, env.logger, saga.WithObserver(env.metrics))

	defer func() {
		_ = coordinator.Close(context.WithoutCancel(ctx))

		for _, d := range dispatchers {
			_ = d.Close()
		}
	}()

	if err := errors.Join(
		accounts.Register(accountsD),
		notifications.Register(notifyD),
		coordinator.DefineSaga(bank.TransferSaga, bank.TransferSteps(demoRetryDelay)),
		coordinator.DefineSaga("overdraw", []saga.StepDefinition{
			{Name: "debit", Service: bank.AccountsService, Action: "debit", RetryCount: 3, RetryDelay: demoRetryDelay},
		}),
	); err != nil {
		return err
	}

	for _, d := range dispatchers {
		if err := d.Start(ctx); err != nil {
			return err
		}
	}

	transfer := func(sagaType string, data bank.TransferData) (saga.Status, error) {
		started, err := coordinator.StartSaga(ctx, sagaType, data.Map())
		if err != nil {
			return saga.Status{}, err
		}

		return coordinator.Await(ctx, started.SagaID)
	}

	scenarios := []scenario{
		{"forward success", func(context.Context) (string, error) {
			st, err := transfer(bank.TransferSaga, bank.TransferData{From: "ACC-1", To: "ACC-2", Amount: 200})
			if err != nil {
				return "", err
			}

			b1, _ := accounts.Balance("ACC-1")
			b2, _ := accounts.Balance("ACC-2")

			return fmt.Sprintf("%s current_step=%d ACC-1=%.2f ACC-2=%.2f", st.State, st.CurrentStep, b1, b2),
				expectState(st, saga.StateCompleted)
		}},
		{"compensation", func(context.Context) (string, error) {
			before, _ := accounts.Balance("ACC-1")

			st, err := transfer(bank.TransferSaga, bank.TransferData{From: "ACC-1", To: "ACC-404", Amount: 200})
			if err != nil {
				return "", err
			}

			after, _ := accounts.Balance("ACC-1")
			if before != after {
				return "", fmt.Errorf("ACC-1 not restored: %.2f != %.2f", after, before)
			}

			return fmt.Sprintf("%s ACC-1=%.2f", st.State, after), expectState(st, saga.StateCompensated)
		}},
		{"retry exhaustion", func(context.Context) (string, error) {
			st, err := transfer("overdraw", bank.TransferData{From: "ACC-1", Amount: 1e9})
			if err != nil {
				return "", err
			}

			step, _ := st.Step("debit")
			if step.State != saga.StepFailed || step.Attempts != 3 {
				return "", fmt.Errorf("debit %s after %d attempts", step.State, step.Attempts)
			}

			return fmt.Sprintf("debit %s after %d attempts", step.State, step.Attempts), nil
		}},
		{"unknown method", func(ctx context.Context) (string, error) {
			_, err := client.CallRPC(ctx, bank.AccountsService, "withdraw_all", nil, time.Second)

			var remote *berr.RemoteError
			if !errors.As(err, &remote) || !strings.HasPrefix(remote.Message, "Unknown method:") {
				return "", fmt.Errorf("expected unknown method error, got %w", err)
			}

			return remote.Message, nil
		}},
	}

	var failed []error

	for _, sc := range scenarios {
		summary, err := sc.run(ctx)
		if err != nil {
			failed = append(failed, fmt.Errorf("%s: %w", sc.name, err))
			fmt.Fprintf(out, "FAIL  %-17s %v\n", sc.name, err)

			continue
		}

		fmt.Fprintf(out, "ok    %-17s %s\n", sc.name, summary)
	}

	return errors.Join(failed...)
}

func expectState(st saga.Status, want saga.State) error {
	if st.State != want {
		return fmt.Errorf("state %s, want %s", st.State, want)
	}

	return nil
}

package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/next-trace/scg-service-runtime/saga"
	"github.com/next-trace/scg-service-runtime/servicebus"
)

const pollInterval = 200 * time.Millisecond

func newSagaCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "saga",
		Short: "Drive the remote saga service",
	}

	start := &cobra.Command{
		Use:   "start TYPE [JSON_DATA]",
		Short: "Start a saga and print its id",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, env, err := setup(v, cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			data, err := parseArgs(args[1:])
			if err != nil {
				return err
			}

			client := env.dispatcher(cfg.Service)
			defer func() { _ = client.Close() }()

			ctx := cmd.Context()

			started, err := servicebus.Call[saga.StartResult](ctx, client, sagaService, "start_saga",
				saga.StartRequest{SagaType: args[0], Data: data}, cfg.CallTimeout)
			if err != nil {
				return err
			}

			if !v.GetBool("wait") {
				return printJSON(cmd.OutOrStdout(), started)
			}

			status, err := waitForSaga(ctx, client, started.SagaID, cfg.CallTimeout)
			if err != nil {
				return err
			}

			return printJSON(cmd.OutOrStdout(), status)
		},
	}

	start.Flags().Bool("wait", false, "poll until the saga reaches a terminal state")
	bindFlags(v, start)

	status := &cobra.Command{
		Use:   "status SAGA_ID",
		Short: "Print the status of a saga",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, env, err := setup(v, cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			client := env.dispatcher(cfg.Service)
			defer func() { _ = client.Close() }()

			st, err := servicebus.Call[saga.Status](cmd.Context(), client, sagaService, "get_saga_status",
				saga.StatusRequest{SagaID: args[0]}, cfg.CallTimeout)
			if err != nil {
				return err
			}

			return printJSON(cmd.OutOrStdout(), st)
		},
	}

	cmd.AddCommand(start, status)

	return cmd
}

func waitForSaga(ctx context.Context, client *servicebus.Dispatcher, sagaID string, timeout time.Duration) (saga.Status, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		st, err := servicebus.Call[saga.Status](ctx, client, sagaService, "get_saga_status",
			saga.StatusRequest{SagaID: sagaID}, timeout)
		if err != nil {
			return saga.Status{}, err
		}

		if st.State.Terminal() {
			return st, nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return st, ctx.Err()
		}
	}
}

package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/next-trace/scg-service-runtime/correlation"
)

func newCallCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call SERVICE METHOD [JSON_ARGS]",
		Short: "Issue one RPC call and print the result",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, env, err := setup(v, cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			payload, err := parseArgs(args[2:])
			if err != nil {
				return err
			}

			client := env.dispatcher(cfg.Service)
			defer func() { _ = client.Close() }()

			ctx, corrID := correlation.GetOrCreate(cmd.Context(), v.GetString("correlation-id"))

			res, err := client.CallRPC(ctx, args[0], args[1], payload, cfg.CallTimeout)
			if err != nil {
				return fmt.Errorf("%w (correlation_id %s)", err, corrID)
			}

			return printJSON(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().String("correlation-id", "", "correlation id to send (generated when empty)")
	bindFlags(v, cmd)

	return cmd
}

// parseArgs decodes an optional JSON object argument.
func parseArgs(args []string) (map[string]any, error) {
	out := map[string]any{}
	if len(args) == 0 || args[0] == "" {
		return out, nil
	}

	if err := json.Unmarshal([]byte(args[0]), &out); err != nil {
		return nil, fmt.Errorf("arguments must be a JSON object: %w", err)
	}

	return out, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

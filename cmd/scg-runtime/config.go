package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/next-trace/scg-service-runtime/servicebus"
)

const envPrefix = "SCG"

type config struct {
	Service       string
	Transport     string
	NATSURL       string
	Codec         string
	Sagas         string
	MetricsListen string
	OTLPEndpoint  string
	JournalDSN    string
	RabbitMQURL   string
	KafkaBrokers  []string
	KafkaTopic    string
	LogLevel      string
	LogFormat     string
	CallTimeout   time.Duration
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	return v
}

func addGlobalFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "path to a YAML/JSON/TOML config file")
	flags.String("service", "scg-cli", "name this process calls out as")
	flags.String("transport", "memory", "message transport: memory or nats")
	flags.String("nats-url", "nats://127.0.0.1:4222", "NATS server URL")
	flags.String("codec", "json", "wire codec: json or cbor")
	flags.String("sagas", "", "YAML file with additional saga definitions")
	flags.String("metrics-listen", "", "address serving /metrics (empty disables)")
	flags.String("otlp-endpoint", "", "OTLP trace endpoint (empty disables tracing)")
	flags.String("journal-dsn", "", "PostgreSQL DSN for the saga journal (empty keeps it in memory)")
	flags.String("rabbitmq-url", "", "mirror published events to this AMQP broker")
	flags.StringSlice("kafka-brokers", nil, "mirror published events to these Kafka brokers")
	flags.String("kafka-topic", "scg.events", "Kafka topic for mirrored events")
	flags.String("log-level", "info", "log level: debug, info, warn or error")
	flags.String("log-format", "text", "log format: text or json")
	flags.Duration("call-timeout", servicebus.DefaultCallTimeout, "default RPC call timeout")
}

// readConfig loads the optional config file into v and resolves every key.
// Precedence is flag, then environment, then file, then default.
func readConfig(v *viper.Viper) (config, error) {
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			return config{}, fmt.Errorf("read config file %q: %w", path, err)
		}
	}

	cfg := config{
		Service:       v.GetString("service"),
		Transport:     strings.ToLower(v.GetString("transport")),
		NATSURL:       v.GetString("nats-url"),
		Codec:         v.GetString("codec"),
		Sagas:         v.GetString("sagas"),
		MetricsListen: v.GetString("metrics-listen"),
		OTLPEndpoint:  v.GetString("otlp-endpoint"),
		JournalDSN:    v.GetString("journal-dsn"),
		RabbitMQURL:   v.GetString("rabbitmq-url"),
		KafkaBrokers:  splitList(v.GetStringSlice("kafka-brokers")),
		KafkaTopic:    v.GetString("kafka-topic"),
		LogLevel:      v.GetString("log-level"),
		LogFormat:     v.GetString("log-format"),
		CallTimeout:   v.GetDuration("call-timeout"),
	}

	switch cfg.Transport {
	case "memory", "nats":
	default:
		return config{}, fmt.Errorf("unknown transport %q", cfg.Transport)
	}

	return cfg, nil
}

// splitList flattens comma separated entries, as env values arrive as one string.
func splitList(in []string) []string {
	var out []string

	for _, item := range in {
		for part := range strings.SplitSeq(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}

	return out
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}

	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

// bindFlags binds cmd's local flags into v, so they resolve through the same precedence.
func bindFlags(v *viper.Viper, cmd *cobra.Command) {
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		panic(err)
	}
}

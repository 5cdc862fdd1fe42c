package kafka

import (
	"context"
	"crypto/tls"
	"fmt"
	"slices"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	berr "github.com/next-trace/scg-service-runtime/contract/errors"
)

// Concrete franz-go based constructor and producer wrapper.

type Config struct {
	Brokers     []string
	Topic       string
	ClientID    string
	TLS         *tls.Config
	Compression bool
	DialTimeout time.Duration
}

type kgoProducer struct{ cl *kgo.Client }

func (p kgoProducer) Produce(ctx context.Context, r Record) error {
	rec := &kgo.Record{Topic: r.Topic, Key: r.Key, Value: r.Value, Headers: toRecordHeaders(r.Headers)}

	return p.cl.ProduceSync(ctx, rec).FirstErr()
}

// toRecordHeaders orders headers by key so records are reproducible.
func toRecordHeaders(headers map[string]string) []kgo.RecordHeader {
	if len(headers) == 0 {
		return nil
	}

	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}

	slices.Sort(keys)

	out := make([]kgo.RecordHeader, 0, len(keys))
	for _, k := range keys {
		out = append(out, kgo.RecordHeader{Key: k, Value: []byte(headers[k])})
	}

	return out
}

// options translates cfg into franz-go client options.
func options(cfg Config) []kgo.Opt {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}

	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}

	if cfg.TLS != nil {
		opts = append(opts, kgo.DialTLSConfig(cfg.TLS))
	}

	if cfg.Compression {
		opts = append(opts, kgo.ProducerBatchCompression(kgo.SnappyCompression()))
	}

	if cfg.DialTimeout > 0 {
		opts = append(opts, kgo.DialTimeout(cfg.DialTimeout))
	}

	return opts
}

// NewWithKgo builds a franz-go client based Adapter. The returned cleanup should be called to close the client.
func NewWithKgo(cfg Config) (*Adapter, func(), error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil, fmt.Errorf("kafka: brokers required: %w", berr.ErrTransportNotConfigured)
	}

	cl, err := kgo.NewClient(options(cfg)...)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka client init: %w", err)
	}

	ad := New(kgoProducer{cl: cl})
	if cfg.Topic != "" {
		ad.Topic = cfg.Topic
	}

	return ad, cl.Close, nil
}

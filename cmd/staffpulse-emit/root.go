package main

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/pscheid92/staffpulse/internal/adapter/eventpublisher"
	"github.com/pscheid92/staffpulse/internal/adapter/kafka"
	"github.com/pscheid92/staffpulse/internal/adapter/redis"
	"github.com/spf13/cobra"
)

// brokerFlags selects the sinks publish and notice write to.
type brokerFlags struct {
	redisURL     string
	redisChannel string
	kafkaBrokers string
	kafkaTopic   string
}

// sinkFactory opens the configured sinks. The returned func releases them.
type sinkFactory func(ctx context.Context, flags brokerFlags) ([]eventpublisher.Sink, func(), error)

func newRootCmd(openSinks sinkFactory) *cobra.Command {
	flags := &brokerFlags{}

	root := &cobra.Command{
		Use:   "staffpulse-emit",
		Short: "Publish staffpulse events and issue client tokens",
		Long: `Operator tool for the staffpulse gateway.

Available subcommands:
  publish - Publish a JSON event from a file, stdin or --data
  notice  - Publish a maintenance or announcement notice
  token   - Sign a client token for the authenticate frame`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.redisURL, "redis-url", os.Getenv("REDIS_URL"), "Redis URL to publish to")
	pf.StringVar(&flags.redisChannel, "redis-channel", envOr("INGEST_REDIS_CHANNEL", "staffpulse:events"), "Redis channel the gateway subscribes to")
	pf.StringVar(&flags.kafkaBrokers, "kafka-brokers", os.Getenv("KAFKA_BROKERS"), "Comma-separated Kafka brokers")
	pf.StringVar(&flags.kafkaTopic, "kafka-topic", envOr("KAFKA_TOPIC", "staffpulse.events"), "Kafka topic the gateway consumes")

	root.AddCommand(
		newPublishCmd(flags, openSinks),
		newNoticeCmd(flags, openSinks),
		newTokenCmd(),
	)
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// defaultSinks connects to every broker that has flags set.
func defaultSinks(ctx context.Context, flags brokerFlags) ([]eventpublisher.Sink, func(), error) {
	var (
		sinks   []eventpublisher.Sink
		closers []func()
	)
	release := func() {
		for _, c := range closers {
			c()
		}
	}

	if flags.redisURL != "" {
		client, err := redis.NewClient(ctx, flags.redisURL, nil)
		if err != nil {
			return nil, release, err
		}
		closers = append(closers, func() { _ = client.Close() })
		sinks = append(sinks, redis.NewPublisher(client, flags.redisChannel))
	}

	if brokers := splitBrokers(flags.kafkaBrokers); len(brokers) > 0 {
		producer, err := kafka.NewProducer(brokers, flags.kafkaTopic, nil)
		if err != nil {
			release()
			return nil, func() {}, err
		}
		closers = append(closers, func() { _ = producer.Close() })
		sinks = append(sinks, producer)
	}

	if len(sinks) == 0 {
		return nil, release, errors.New("set --redis-url or --kafka-brokers")
	}
	return sinks, release, nil
}

func splitBrokers(raw string) []string {
	var out []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// dlq-reprocess перечитывает Dead Letter Queue и возвращает события в топик заказов.
// По умолчанию работает в режиме dry-run и только печатает кандидатов.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/vladislavdragonenkov/shopsync/internal/messaging/kafka"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
	defaultMaxRetries  = 5
	clientID           = "shopsync-dlq-reprocess"

	envPrefix  = "SHOP"
	envBrokers = "SHOP_KAFKA_BROKERS"
)

type config struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	// stage оставляет только записи с указанной стадией сбоя; пусто: любые.
	stage string
	// maxRetries: записи, которые уже переигрывались столько раз, пропускаются.
	maxRetries  int
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
}

func (c config) mode() string {
	if c.execute {
		return "execute"
	}
	return "dry-run"
}

// newReplayDependencies подменяется в тестах.
var newReplayDependencies = func(cfg config) (offsetClient, partitionConsumerSource, replayProducer, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.ClientID = clientID
	consumerConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, consumerConfig)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create kafka client: %w", err)
	}

	rawConsumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	consumer := saramaConsumerAdapter{consumer: rawConsumer}

	if !cfg.execute {
		return client, consumer, nil, nil
	}

	producer, err := kafka.NewProducer(cfg.brokers, kafka.WithClientID(clientID))
	if err != nil {
		_ = consumer.Close()
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return client, consumer, producer, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	cfg, err := readConfig(os.Args[1:])
	if err != nil {
		fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

// readConfig разбирает флаги; каждый флаг можно задать и переменной окружения
// SHOP_DLQ_<ИМЯ>, брокеры дополнительно берутся из SHOP_KAFKA_BROKERS.
func readConfig(args []string) (config, error) {
	flags := pflag.NewFlagSet("dlq-reprocess", pflag.ContinueOnError)
	flags.String("brokers", "", "Kafka brokers, comma-separated (fallback: "+envBrokers+")")
	flags.String("source-topic", kafka.TopicDeadLetterQueue, "DLQ topic to scan")
	flags.String("target-topic", kafka.TopicOrderEvents, "topic for replayed order events")
	flags.String("stage", "", "replay only records of this stage: consumer|crm-sync (empty = any)")
	flags.Int("max-retries", defaultMaxRetries, "skip records replayed this many times")
	flags.Int("limit", defaultReplayLimit, "max number of messages to scan")
	flags.Bool("execute", false, "publish replayed events; default is dry-run")
	flags.Bool("from-newest", false, "scan the latest messages first (bounded by limit)")
	flags.Duration("idle-timeout", defaultIdleTimeout, "idle timeout per partition")
	if err := flags.Parse(args); err != nil {
		return config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix + "_DLQ")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		return config{}, fmt.Errorf("bind flags: %w", err)
	}

	cfg := config{
		brokers:     parseBrokers(firstNonEmpty(v.GetString("brokers"), os.Getenv(envBrokers))),
		sourceTopic: v.GetString("source-topic"),
		targetTopic: v.GetString("target-topic"),
		stage:       strings.TrimSpace(v.GetString("stage")),
		maxRetries:  v.GetInt("max-retries"),
		limit:       v.GetInt("limit"),
		execute:     v.GetBool("execute"),
		fromNewest:  v.GetBool("from-newest"),
		idleTimeout: v.GetDuration("idle-timeout"),
	}
	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func (c config) validate() error {
	switch {
	case len(c.brokers) == 0:
		return fmt.Errorf("kafka brokers are required (-brokers or %s)", envBrokers)
	case strings.TrimSpace(c.sourceTopic) == "":
		return fmt.Errorf("source-topic is required")
	case strings.TrimSpace(c.targetTopic) == "":
		return fmt.Errorf("target-topic is required")
	case c.limit <= 0:
		return fmt.Errorf("limit must be > 0")
	case c.maxRetries <= 0:
		return fmt.Errorf("max-retries must be > 0")
	case c.idleTimeout <= 0:
		return fmt.Errorf("idle-timeout must be > 0")
	}
	switch c.stage {
	case "", kafka.StageConsumer, kafka.StageCRMSync:
		return nil
	default:
		return fmt.Errorf("unknown stage %q", c.stage)
	}
}

func parseBrokers(raw string) []string {
	var brokers []string
	for _, chunk := range strings.Split(raw, ",") {
		if broker := strings.TrimSpace(chunk); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

func run(ctx context.Context, cfg config) error {
	log.WithFields(log.Fields{
		"source_topic": cfg.sourceTopic,
		"target_topic": cfg.targetTopic,
		"stage":        cfg.stage,
		"limit":        cfg.limit,
		"mode":         cfg.mode(),
	}).Info("starting dlq replay")

	client, consumer, producer, err := newReplayDependencies(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if producer != nil {
			_ = producer.Close()
		}
		if consumer != nil {
			_ = consumer.Close()
		}
		if client != nil {
			_ = client.Close()
		}
	}()

	return runReplay(ctx, cfg, client, consumer, producer)
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

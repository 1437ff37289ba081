package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/inkwellstudio/bms/internal/messaging/kafka"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
)

// replayConfig описывает один прогон утилиты: откуда читать dead letters,
// куда их возвращать и сколько сообщений максимум просматривать.
type replayConfig struct {
	brokers     []string
	dlqTopic    string
	destTopic   string
	maxScan     int
	apply       bool
	fromTail    bool
	idleTimeout time.Duration
}

func (cfg replayConfig) validate() error {
	if len(cfg.brokers) == 0 {
		return fmt.Errorf("kafka brokers are required (-brokers or KAFKA_BROKERS)")
	}
	if strings.TrimSpace(cfg.dlqTopic) == "" {
		return fmt.Errorf("source-topic is required")
	}
	if strings.TrimSpace(cfg.destTopic) == "" {
		return fmt.Errorf("target-topic is required")
	}
	if cfg.maxScan <= 0 {
		return fmt.Errorf("limit must be > 0")
	}
	if cfg.idleTimeout <= 0 {
		return fmt.Errorf("idle-timeout must be > 0")
	}
	return nil
}

// replayMessage — уже раскодированное событие, готовое к повторной публикации.
type replayMessage struct {
	topic string
	key   string
	value []byte
}

// consumerDeadLetter — формат, в котором consumer складывает необработанные
// сообщения в DLQ: исходные topic/key/value сохраняются как есть.
type consumerDeadLetter struct {
	OriginalTopic string `json:"original_topic"`
	OriginalKey   string `json:"original_key"`
	OriginalValue string `json:"original_value"`
}

type outboxEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
}

// outboxDeadLetter — формат, в котором outbox-воркер хоронит событие после
// исчерпания попыток публикации.
type outboxDeadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
}

type replayEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// Узкие интерфейсы поверх sarama, чтобы прогонять replay в тестах на стабах.
type offsetReader interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionStream interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type streamOpener interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionStream, error)
	Close() error
}

type resendProducer interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
	Close() error
}

type consumerAdapter struct {
	consumer sarama.Consumer
}

func (a consumerAdapter) ConsumePartition(topic string, partition int32, offset int64) (partitionStream, error) {
	pc, err := a.consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func (a consumerAdapter) Close() error {
	if a.consumer == nil {
		return nil
	}
	return a.consumer.Close()
}

// Подменяется в тестах.
var newReplayDependencies = func(cfg replayConfig) (offsetReader, streamOpener, resendProducer, error) {
	consumerConfig := sarama.NewConfig()
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
	consumer := consumerAdapter{consumer: rawConsumer}

	// В dry-run режиме продьюсер не нужен.
	if !cfg.apply {
		return client, consumer, nil, nil
	}

	producerConfig := sarama.NewConfig()
	producerConfig.Producer.RequiredAcks = sarama.WaitForAll
	producerConfig.Producer.Retry.Max = 5
	producerConfig.Producer.Return.Successes = true
	producerConfig.Producer.Compression = sarama.CompressionSnappy
	producerConfig.Producer.Idempotent = true
	producerConfig.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(cfg.brokers, producerConfig)
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

	cfg, err := readReplayConfig()
	if err != nil {
		fail("%v", err)
	}

	if err := run(context.Background(), cfg); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func readReplayConfig() (replayConfig, error) {
	var (
		brokersRaw string
		cfg        replayConfig
	)

	flag.StringVar(&brokersRaw, "brokers", "", "comma-separated Kafka brokers (fallback: KAFKA_BROKERS)")
	flag.StringVar(&cfg.dlqTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ topic to read dead letters from")
	flag.StringVar(&cfg.destTopic, "target-topic", kafka.TopicBookingEvents, "topic to publish replayed events to")
	flag.IntVar(&cfg.maxScan, "limit", defaultReplayLimit, "max number of dlq messages to scan")
	flag.BoolVar(&cfg.apply, "execute", false, "actually publish; without this flag the run is a dry-run")
	flag.BoolVar(&cfg.fromTail, "from-newest", false, "start from the tail of each partition (bounded by limit)")
	flag.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "stop reading a partition after this much silence")
	flag.Parse()

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = os.Getenv("KAFKA_BROKERS")
	}
	cfg.brokers = splitBrokers(brokersRaw)

	if err := cfg.validate(); err != nil {
		return replayConfig{}, err
	}
	return cfg, nil
}

func splitBrokers(raw string) []string {
	var brokers []string
	for _, chunk := range strings.Split(raw, ",") {
		if broker := strings.TrimSpace(chunk); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

func run(ctx context.Context, cfg replayConfig) error {
	log.WithFields(log.Fields{
		"source_topic": cfg.dlqTopic,
		"target_topic": cfg.destTopic,
		"limit":        cfg.maxScan,
		"execute":      cfg.apply,
		"from_newest":  cfg.fromTail,
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

	return replayDeadLetters(ctx, cfg, client, consumer, producer)
}

// replayDeadLetters обходит партиции DLQ-топика по возрастанию номера и
// суммирует статистику, пока не исчерпан общий лимит сообщений.
func replayDeadLetters(ctx context.Context, cfg replayConfig, client offsetReader, consumer streamOpener, producer resendProducer) error {
	if client == nil || consumer == nil {
		return fmt.Errorf("kafka client and consumer are required")
	}
	if cfg.apply && producer == nil {
		return fmt.Errorf("producer is required in execute mode")
	}

	partitions, err := client.Partitions(cfg.dlqTopic)
	if err != nil {
		return fmt.Errorf("get partitions for topic %s: %w", cfg.dlqTopic, err)
	}
	if len(partitions) == 0 {
		log.WithField("topic", cfg.dlqTopic).Warn("source topic has no partitions")
		return nil
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	var total replayStats
	for _, partition := range partitions {
		remaining := cfg.maxScan - total.processed
		if remaining <= 0 {
			break
		}

		stats, err := drainPartition(ctx, consumer, client, producer, cfg, partition, remaining)
		if err != nil {
			return err
		}
		total.add(stats)
	}

	mode := "dry-run"
	if cfg.apply {
		mode = "execute"
	}

	log.WithFields(log.Fields{
		"mode":      mode,
		"processed": total.processed,
		"replayed":  total.replayed,
		"skipped":   total.skipped,
	}).Info("dlq replay finished")

	return nil
}

type replayStats struct {
	processed int
	replayed  int
	skipped   int
}

func (s *replayStats) add(other replayStats) {
	s.processed += other.processed
	s.replayed += other.replayed
	s.skipped += other.skipped
}

// partitionWindow фиксирует границы чтения партиции до старта, чтобы прогон
// не гнался за dead letters, прибывающими во время replay.
func partitionWindow(client offsetReader, cfg replayConfig, partition int32, limit int) (start, end int64, err error) {
	oldest, err := client.GetOffset(cfg.dlqTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return 0, 0, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := client.GetOffset(cfg.dlqTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return 0, 0, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}

	start = oldest
	if cfg.fromTail {
		if tail := newest - int64(limit); tail > start {
			start = tail
		}
	}
	return start, newest, nil
}

// drainPartition вычитывает до limit сообщений одной партиции DLQ и публикует
// (или в dry-run режиме только логирует) кандидатов на повторную доставку.
func drainPartition(
	ctx context.Context,
	consumer streamOpener,
	client offsetReader,
	producer resendProducer,
	cfg replayConfig,
	partition int32,
	limit int,
) (replayStats, error) {
	var stats replayStats
	if limit <= 0 {
		return stats, nil
	}

	start, end, err := partitionWindow(client, cfg, partition, limit)
	if err != nil {
		return stats, err
	}
	if start >= end {
		return stats, nil
	}

	pc, err := consumer.ConsumePartition(cfg.dlqTopic, partition, start)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idleTimer := time.NewTimer(cfg.idleTimeout)
	defer idleTimer.Stop()

	for stats.processed < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case err := <-pc.Errors():
			if err != nil {
				return stats, fmt.Errorf("partition %d consumer error: %w", partition, err)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil {
				return stats, nil
			}

			if !idleTimer.Stop() {
				select {
				case <-idleTimer.C:
				default:
				}
			}
			idleTimer.Reset(cfg.idleTimeout)

			if msg.Offset >= end {
				return stats, nil
			}
			if err := handleCandidate(cfg, producer, msg, &stats); err != nil {
				return stats, err
			}
			if msg.Offset+1 >= end {
				return stats, nil
			}
		case <-idleTimer.C:
			return stats, nil
		}
	}

	return stats, nil
}

// handleCandidate раскодирует одно DLQ-сообщение и либо публикует его, либо
// в dry-run режиме только отчитывается в лог. Нераспознанные сообщения
// засчитываются как skipped и прогон не останавливают.
func handleCandidate(cfg replayConfig, producer resendProducer, msg *sarama.ConsumerMessage, stats *replayStats) error {
	stats.processed++

	replayMsg, ok, err := decodeReplayCandidate(msg, cfg.destTopic)
	if err != nil {
		stats.skipped++
		log.WithError(err).WithFields(log.Fields{
			"partition": msg.Partition,
			"offset":    msg.Offset,
		}).Warn("skip unsupported dlq message")
		return nil
	}
	if !ok {
		stats.skipped++
		return nil
	}

	if cfg.apply {
		if err := publishReplay(producer, replayMsg); err != nil {
			return fmt.Errorf("publish replay message: %w", err)
		}
	} else {
		log.WithFields(log.Fields{
			"partition":    msg.Partition,
			"offset":       msg.Offset,
			"target_topic": replayMsg.topic,
			"key":          replayMsg.key,
		}).Info("dlq replay candidate")
	}
	stats.replayed++
	return nil
}

func publishReplay(producer resendProducer, msg replayMessage) error {
	if producer == nil {
		return fmt.Errorf("producer is nil")
	}

	_, _, err := producer.SendMessage(&sarama.ProducerMessage{
		Topic:     msg.topic,
		Key:       sarama.StringEncoder(msg.key),
		Value:     sarama.ByteEncoder(msg.value),
		Timestamp: time.Now().UTC(),
	})
	return err
}

// decodeReplayCandidate распознаёт оба формата dead letters: сообщения,
// отложенные consumer-ом, и события, похороненные outbox-воркером.
func decodeReplayCandidate(msg *sarama.ConsumerMessage, defaultTopic string) (replayMessage, bool, error) {
	if replay, ok := decodeConsumerDeadLetter(msg.Value, defaultTopic); ok {
		return replay, true, nil
	}
	return decodeOutboxDeadLetter(msg.Value, defaultTopic)
}

func decodeConsumerDeadLetter(value []byte, defaultTopic string) (replayMessage, bool) {
	var letter consumerDeadLetter
	if err := json.Unmarshal(value, &letter); err != nil || letter.OriginalValue == "" {
		return replayMessage{}, false
	}

	topic := strings.TrimSpace(letter.OriginalTopic)
	if topic == "" {
		topic = defaultTopic
	}
	return replayMessage{
		topic: topic,
		key:   letter.OriginalKey,
		value: []byte(letter.OriginalValue),
	}, true
}

func decodeOutboxDeadLetter(value []byte, defaultTopic string) (replayMessage, bool, error) {
	var envelope outboxEnvelope
	if err := json.Unmarshal(value, &envelope); err != nil {
		return replayMessage{}, false, nil
	}
	if len(envelope.Payload) == 0 {
		return replayMessage{}, false, nil
	}

	var letter outboxDeadLetter
	if err := json.Unmarshal(envelope.Payload, &letter); err != nil {
		return replayMessage{}, false, fmt.Errorf("decode outbox dlq payload: %w", err)
	}
	if len(letter.Payload) == 0 {
		return replayMessage{}, false, fmt.Errorf("outbox dlq payload does not contain original event payload")
	}

	replay := replayEnvelope{
		ID:            firstNonEmpty(letter.OutboxID, envelope.ID),
		AggregateType: firstNonEmpty(letter.AggregateType, envelope.AggregateType),
		AggregateID:   firstNonEmpty(letter.AggregateID, envelope.AggregateID),
		EventType:     firstNonEmpty(letter.EventType, envelope.EventType),
		Payload:       letter.Payload,
		PublishedAt:   time.Now().UTC(),
	}
	encoded, err := json.Marshal(replay)
	if err != nil {
		return replayMessage{}, false, fmt.Errorf("encode replay envelope: %w", err)
	}

	key := replay.AggregateID
	if key == "" {
		key = replay.ID
	}

	return replayMessage{
		topic: defaultTopic,
		key:   key,
		value: encoded,
	}, true, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"
)

const consumerLetterJSON = `{"original_topic":"bms.booking.events","original_key":"appt-1","original_value":"{\"id\":\"evt-1\"}"}`

func TestSplitBrokers(t *testing.T) {
	brokers := splitBrokers(" broker-1:9092, ,broker-2:9092 ")
	if len(brokers) != 2 {
		t.Fatalf("unexpected brokers count: got=%d want=2", len(brokers))
	}
	if brokers[0] != "broker-1:9092" || brokers[1] != "broker-2:9092" {
		t.Fatalf("unexpected brokers: %+v", brokers)
	}
	if got := splitBrokers(" , "); got != nil {
		t.Fatalf("expected nil for blank input, got %+v", got)
	}
}

func TestDecodeReplayCandidate_ConsumerDeadLetter(t *testing.T) {
	message := &sarama.ConsumerMessage{Value: []byte(consumerLetterJSON)}

	got, ok, err := decodeReplayCandidate(message, "fallback-topic")
	if err != nil {
		t.Fatalf("decodeReplayCandidate failed: %v", err)
	}
	if !ok {
		t.Fatal("expected replay candidate")
	}
	if got.topic != "bms.booking.events" {
		t.Fatalf("unexpected topic: %s", got.topic)
	}
	if got.key != "appt-1" {
		t.Fatalf("unexpected key: %s", got.key)
	}
	if string(got.value) != `{"id":"evt-1"}` {
		t.Fatalf("unexpected replay value: %s", string(got.value))
	}
}

func TestDecodeReplayCandidate_ConsumerDeadLetterFallbackTopic(t *testing.T) {
	raw, err := json.Marshal(map[string]any{
		"original_key":   "appt-9",
		"original_value": `{"id":"evt-9"}`,
	})
	if err != nil {
		t.Fatalf("marshal letter failed: %v", err)
	}

	got, ok, err := decodeReplayCandidate(&sarama.ConsumerMessage{Value: raw}, "bms.booking.events")
	if err != nil || !ok {
		t.Fatalf("expected candidate, got ok=%v err=%v", ok, err)
	}
	if got.topic != "bms.booking.events" {
		t.Fatalf("expected fallback topic, got %s", got.topic)
	}
}

func TestDecodeReplayCandidate_OutboxDeadLetter(t *testing.T) {
	envelope := map[string]any{
		"id":             "outbox-1",
		"aggregate_type": "appointment",
		"aggregate_id":   "appt-1",
		"event_type":     "booking.created",
		"payload": map[string]any{
			"outbox_id":      "outbox-1",
			"aggregate_type": "appointment",
			"aggregate_id":   "appt-1",
			"event_type":     "booking.created",
			"payload": map[string]any{
				"status": "confirmed",
			},
			"publish_error": "timeout",
		},
	}

	raw, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope failed: %v", err)
	}

	got, ok, err := decodeReplayCandidate(&sarama.ConsumerMessage{Value: raw}, "bms.booking.events")
	if err != nil {
		t.Fatalf("decodeReplayCandidate failed: %v", err)
	}
	if !ok {
		t.Fatal("expected replay candidate")
	}
	if got.topic != "bms.booking.events" {
		t.Fatalf("unexpected topic: %s", got.topic)
	}
	if got.key != "appt-1" {
		t.Fatalf("unexpected key: %s", got.key)
	}
	if !json.Valid(got.value) {
		t.Fatalf("replay payload must be valid JSON: %s", string(got.value))
	}

	var replay replayEnvelope
	if err := json.Unmarshal(got.value, &replay); err != nil {
		t.Fatalf("unmarshal replay envelope: %v", err)
	}
	if replay.EventType != "booking.created" || replay.AggregateID != "appt-1" {
		t.Fatalf("unexpected replay envelope: %+v", replay)
	}
}

func TestDecodeReplayCandidate_OutboxMissingNestedPayload(t *testing.T) {
	envelope := map[string]any{
		"id":             "outbox-1",
		"aggregate_type": "appointment",
		"aggregate_id":   "appt-1",
		"event_type":     "booking.created",
		"payload": map[string]any{
			"outbox_id":      "outbox-1",
			"aggregate_type": "appointment",
			"aggregate_id":   "appt-1",
			"event_type":     "booking.created",
		},
	}

	raw, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope failed: %v", err)
	}

	_, ok, err := decodeReplayCandidate(&sarama.ConsumerMessage{Value: raw}, "bms.booking.events")
	if err == nil {
		t.Fatal("expected error for missing nested payload")
	}
	if ok {
		t.Fatal("expected no replay candidate")
	}
}

func TestDecodeReplayCandidate_UnknownPayload(t *testing.T) {
	message := &sarama.ConsumerMessage{Value: []byte(`{"foo":"bar"}`)}

	_, ok, err := decodeReplayCandidate(message, "bms.booking.events")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected message to be skipped")
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "  ", "x", "y"); got != "x" {
		t.Fatalf("unexpected first non-empty value: %q", got)
	}
	if got := firstNonEmpty("", " "); got != "" {
		t.Fatalf("expected empty result, got %q", got)
	}
}

func TestReadReplayConfig_FromFlags(t *testing.T) {
	withFlagArgs(t, []string{
		"-brokers=broker-1:9092,broker-2:9092",
		"-source-topic=bms.dlq",
		"-target-topic=bms.booking.events",
		"-limit=10",
		"-execute=true",
		"-from-newest=true",
		"-idle-timeout=3s",
	}, func() {
		cfg, err := readReplayConfig()
		if err != nil {
			t.Fatalf("readReplayConfig failed: %v", err)
		}
		if len(cfg.brokers) != 2 {
			t.Fatalf("unexpected brokers count: %d", len(cfg.brokers))
		}
		if cfg.maxScan != 10 {
			t.Fatalf("unexpected maxScan: %d", cfg.maxScan)
		}
		if !cfg.apply {
			t.Fatal("expected execute=true")
		}
		if !cfg.fromTail {
			t.Fatal("expected from-newest flag to be picked up")
		}
		if cfg.idleTimeout != 3*time.Second {
			t.Fatalf("unexpected idle-timeout: %s", cfg.idleTimeout)
		}
	})
}

func TestReadReplayConfig_Validation(t *testing.T) {
	cases := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{
			name:    "missing brokers",
			args:    []string{"-brokers=", "-source-topic=bms.dlq", "-target-topic=bms.booking.events"},
			wantErr: "kafka brokers are required",
		},
		{
			name:    "missing source topic",
			args:    []string{"-brokers=broker:9092", "-source-topic=", "-target-topic=bms.booking.events"},
			wantErr: "source-topic is required",
		},
		{
			name:    "missing target topic",
			args:    []string{"-brokers=broker:9092", "-source-topic=bms.dlq", "-target-topic=", "-limit=1"},
			wantErr: "target-topic is required",
		},
		{
			name:    "non-positive limit",
			args:    []string{"-brokers=broker:9092", "-source-topic=bms.dlq", "-target-topic=bms.booking.events", "-limit=0"},
			wantErr: "limit must be > 0",
		},
		{
			name:    "non-positive idle timeout",
			args:    []string{"-brokers=broker:9092", "-source-topic=bms.dlq", "-target-topic=bms.booking.events", "-idle-timeout=0s"},
			wantErr: "idle-timeout must be > 0",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			withFlagArgs(t, tc.args, func() {
				_, err := readReplayConfig()
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("expected error containing %q, got: %v", tc.wantErr, err)
				}
			})
		})
	}
}

func TestPublishReplay(t *testing.T) {
	if err := publishReplay(nil, replayMessage{}); err == nil {
		t.Fatal("expected error for nil producer")
	}

	producer := &fakeProducer{}
	err := publishReplay(producer, replayMessage{topic: "topic", key: "key", value: []byte(`{"x":1}`)})
	if err != nil {
		t.Fatalf("publishReplay failed: %v", err)
	}
	if producer.calls != 1 {
		t.Fatalf("unexpected producer calls: %d", producer.calls)
	}
	if producer.lastMsg == nil || producer.lastMsg.Topic != "topic" {
		t.Fatalf("unexpected last message: %+v", producer.lastMsg)
	}

	producer.sendErr = errors.New("send failed")
	err = publishReplay(producer, replayMessage{topic: "topic", key: "key", value: []byte(`{"x":1}`)})
	if err == nil {
		t.Fatal("expected publishReplay error")
	}
}

func TestDrainPartition_DryRun(t *testing.T) {
	client := &fakeOffsetReader{
		partitions: []int32{0},
		offsets:    map[int32]offsetWindow{0: {oldest: 0, newest: 2}},
	}
	source := &fakeStreamOpener{
		consumers: map[int32]partitionStream{
			0: drainedConsumer(letterMessage(0, 0)),
		},
	}

	cfg := replayConfig{
		dlqTopic:    "bms.dlq",
		destTopic:   "bms.booking.events",
		idleTimeout: 20 * time.Millisecond,
	}

	stats, err := drainPartition(context.Background(), source, client, nil, cfg, 0, 10)
	if err != nil {
		t.Fatalf("drainPartition failed: %v", err)
	}
	if stats.processed != 1 || stats.replayed != 1 || stats.skipped != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(source.calls) != 1 || source.calls[0].offset != 0 {
		t.Fatalf("unexpected consume calls: %+v", source.calls)
	}
}

func TestDrainPartition_Execute(t *testing.T) {
	client := &fakeOffsetReader{
		offsets: map[int32]offsetWindow{0: {oldest: 0, newest: 2}},
	}
	source := &fakeStreamOpener{
		consumers: map[int32]partitionStream{
			0: drainedConsumer(letterMessage(0, 0)),
		},
	}
	producer := &fakeProducer{}

	cfg := replayConfig{dlqTopic: "bms.dlq", destTopic: "bms.booking.events", apply: true, idleTimeout: 20 * time.Millisecond}

	stats, err := drainPartition(context.Background(), source, client, producer, cfg, 0, 10)
	if err != nil {
		t.Fatalf("drainPartition failed: %v", err)
	}
	if stats.replayed != 1 {
		t.Fatalf("expected replayed=1, got %+v", stats)
	}
	if producer.calls != 1 {
		t.Fatalf("expected one producer call, got %d", producer.calls)
	}
}

func TestDrainPartition_FromNewestBoundsStart(t *testing.T) {
	client := &fakeOffsetReader{
		offsets: map[int32]offsetWindow{0: {oldest: 0, newest: 10}},
	}
	source := &fakeStreamOpener{
		consumers: map[int32]partitionStream{
			0: drainedConsumer(letterMessage(0, 7)),
		},
	}

	cfg := replayConfig{dlqTopic: "bms.dlq", destTopic: "bms.booking.events", fromTail: true, idleTimeout: 20 * time.Millisecond}

	if _, err := drainPartition(context.Background(), source, client, nil, cfg, 0, 3); err != nil {
		t.Fatalf("drainPartition failed: %v", err)
	}
	if len(source.calls) != 1 || source.calls[0].offset != 7 {
		t.Fatalf("expected consume from offset 7, got %+v", source.calls)
	}
}

func TestDrainPartition_ErrorBranches(t *testing.T) {
	cfg := replayConfig{dlqTopic: "bms.dlq", destTopic: "bms.booking.events", apply: true, idleTimeout: 20 * time.Millisecond}

	clientOffsetErr := &fakeOffsetReader{offsetErr: map[int32]error{0: errors.New("offset")}}
	if _, err := drainPartition(context.Background(), &fakeStreamOpener{}, clientOffsetErr, &fakeProducer{}, cfg, 0, 1); err == nil {
		t.Fatal("expected offset error")
	}

	client := &fakeOffsetReader{offsets: map[int32]offsetWindow{0: {oldest: 0, newest: 2}}}
	sourceErr := &fakeStreamOpener{consumeErr: errors.New("consume")}
	if _, err := drainPartition(context.Background(), sourceErr, client, &fakeProducer{}, cfg, 0, 1); err == nil {
		t.Fatal("expected consume error")
	}

	pcWithErr := &fakePartitionStream{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError, 1),
	}
	pcWithErr.errors <- &sarama.ConsumerError{Err: errors.New("consumer boom")}
	close(pcWithErr.errors)
	source := &fakeStreamOpener{consumers: map[int32]partitionStream{0: pcWithErr}}
	if _, err := drainPartition(context.Background(), source, client, &fakeProducer{}, cfg, 0, 1); err == nil {
		t.Fatal("expected consumer error branch")
	}
	close(pcWithErr.messages)

	// Сообщение с нечитаемым вложенным payload пропускается, а не валит прогон.
	pcBadPayload := drainedConsumer(&sarama.ConsumerMessage{
		Partition: 0,
		Offset:    0,
		Value:     []byte(`{"id":"x","payload":"not-an-object"}`),
	})
	source = &fakeStreamOpener{consumers: map[int32]partitionStream{0: pcBadPayload}}
	stats, err := drainPartition(context.Background(), source, client, &fakeProducer{}, cfg, 0, 1)
	if err != nil {
		t.Fatalf("unexpected bad-payload error: %v", err)
	}
	if stats.skipped != 1 {
		t.Fatalf("expected skipped=1, got %+v", stats)
	}

	source = &fakeStreamOpener{consumers: map[int32]partitionStream{0: drainedConsumer(letterMessage(0, 0))}}
	producer := &fakeProducer{sendErr: errors.New("send fail")}
	if _, err := drainPartition(context.Background(), source, client, producer, cfg, 0, 1); err == nil {
		t.Fatal("expected producer send error")
	}
}

func TestDrainPartition_IdleTimeoutAndContext(t *testing.T) {
	client := &fakeOffsetReader{offsets: map[int32]offsetWindow{0: {oldest: 0, newest: 2}}}

	idle := &fakePartitionStream{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError),
	}
	source := &fakeStreamOpener{consumers: map[int32]partitionStream{0: idle}}
	cfg := replayConfig{dlqTopic: "bms.dlq", destTopic: "bms.booking.events", idleTimeout: 10 * time.Millisecond}

	stats, err := drainPartition(context.Background(), source, client, nil, cfg, 0, 1)
	if err != nil {
		t.Fatalf("unexpected idle-timeout error: %v", err)
	}
	if stats.processed != 0 {
		t.Fatalf("expected processed=0, got %+v", stats)
	}
	close(idle.messages)
	close(idle.errors)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	canceledPC := &fakePartitionStream{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError),
	}
	canceledSource := &fakeStreamOpener{consumers: map[int32]partitionStream{0: canceledPC}}
	if _, err := drainPartition(ctx, canceledSource, client, nil, cfg, 0, 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	close(canceledPC.messages)
	close(canceledPC.errors)
}

func TestReplayDeadLetters(t *testing.T) {
	cfg := replayConfig{dlqTopic: "bms.dlq", destTopic: "bms.booking.events", maxScan: 1, idleTimeout: 20 * time.Millisecond}

	if err := replayDeadLetters(context.Background(), cfg, nil, nil, nil); err == nil {
		t.Fatal("expected missing deps error")
	}

	client := &fakeOffsetReader{
		partitions: []int32{2, 0},
		offsets: map[int32]offsetWindow{
			0: {oldest: 0, newest: 2},
			2: {oldest: 0, newest: 2},
		},
	}
	source := &fakeStreamOpener{
		consumers: map[int32]partitionStream{
			0: drainedConsumer(letterMessage(0, 0)),
			2: drainedConsumer(letterMessage(2, 0)),
		},
	}

	if err := replayDeadLetters(context.Background(), cfg, client, source, nil); err != nil {
		t.Fatalf("replayDeadLetters failed: %v", err)
	}
	if len(source.calls) != 1 {
		t.Fatalf("expected one partition due limit=1, got calls=%d", len(source.calls))
	}
	if source.calls[0].partition != 0 {
		t.Fatalf("expected first sorted partition=0, got %d", source.calls[0].partition)
	}

	executeCfg := cfg
	executeCfg.apply = true
	if err := replayDeadLetters(context.Background(), executeCfg, client, source, nil); err == nil {
		t.Fatal("expected execute mode to require producer")
	}

	emptyClient := &fakeOffsetReader{partitions: nil}
	if err := replayDeadLetters(context.Background(), cfg, emptyClient, source, nil); err != nil {
		t.Fatalf("expected nil error for empty partitions, got %v", err)
	}
}

func TestRun_WiresDependencies(t *testing.T) {
	oldDeps := newReplayDependencies
	defer func() { newReplayDependencies = oldDeps }()

	cfg := replayConfig{dlqTopic: "bms.dlq", destTopic: "bms.booking.events", maxScan: 1, idleTimeout: 20 * time.Millisecond}

	newReplayDependencies = func(replayConfig) (offsetReader, streamOpener, resendProducer, error) {
		return nil, nil, nil, errors.New("deps failed")
	}
	if err := run(context.Background(), cfg); err == nil || !strings.Contains(err.Error(), "deps failed") {
		t.Fatalf("expected deps error, got %v", err)
	}

	client := &fakeOffsetReader{
		partitions: []int32{0},
		offsets:    map[int32]offsetWindow{0: {oldest: 0, newest: 2}},
	}
	source := &fakeStreamOpener{
		consumers: map[int32]partitionStream{
			0: drainedConsumer(letterMessage(0, 0)),
		},
	}
	producer := &fakeProducer{}

	newReplayDependencies = func(replayConfig) (offsetReader, streamOpener, resendProducer, error) {
		return client, source, producer, nil
	}
	if err := run(context.Background(), cfg); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !client.closed || !source.closed || !producer.closed {
		t.Fatalf("expected all deps to be closed: client=%v consumer=%v producer=%v", client.closed, source.closed, producer.closed)
	}
}

func TestMain_SuccessWithStubbedDeps(t *testing.T) {
	oldDeps := newReplayDependencies
	oldArgs := os.Args
	oldCommandLine := flag.CommandLine
	defer func() {
		newReplayDependencies = oldDeps
		os.Args = oldArgs
		flag.CommandLine = oldCommandLine
	}()

	client := &fakeOffsetReader{
		partitions: []int32{0},
		offsets:    map[int32]offsetWindow{0: {oldest: 0, newest: 2}},
	}
	source := &fakeStreamOpener{
		consumers: map[int32]partitionStream{
			0: drainedConsumer(letterMessage(0, 0)),
		},
	}
	newReplayDependencies = func(replayConfig) (offsetReader, streamOpener, resendProducer, error) {
		return client, source, nil, nil
	}

	os.Args = []string{"dlq-reprocess", "-brokers=broker:9092", "-source-topic=bms.dlq", "-target-topic=bms.booking.events", "-limit=1", "-idle-timeout=50ms"}
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	main()
}

func TestFailExits(t *testing.T) {
	if os.Getenv("DLQ_TEST_FAIL_EXIT") == "1" {
		fail("boom")
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestFailExits")
	cmd.Env = append(os.Environ(), "DLQ_TEST_FAIL_EXIT=1")
	err := cmd.Run()
	if err == nil {
		t.Fatal("expected subprocess to exit with error")
	}
	if exitErr, ok := err.(*exec.ExitError); !ok || exitErr.ExitCode() == 0 {
		t.Fatalf("expected non-zero exit code, got %v", err)
	}
}

func withFlagArgs(t *testing.T, args []string, fn func()) {
	t.Helper()

	oldArgs := os.Args
	oldCommandLine := flag.CommandLine

	os.Args = append([]string{"dlq-reprocess"}, args...)
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	defer func() {
		os.Args = oldArgs
		flag.CommandLine = oldCommandLine
	}()

	fn()
}

// letterMessage собирает стандартное consumer-DLQ сообщение для стабов.
func letterMessage(partition int32, offset int64) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{
		Partition: partition,
		Offset:    offset,
		Value:     []byte(consumerLetterJSON),
	}
}

type offsetWindow struct {
	oldest int64
	newest int64
}

type fakeOffsetReader struct {
	partitions    []int32
	partitionsErr error
	offsets       map[int32]offsetWindow
	offsetErr     map[int32]error
	closed        bool
}

func (f *fakeOffsetReader) GetOffset(_ string, partition int32, marker int64) (int64, error) {
	if err, ok := f.offsetErr[partition]; ok {
		return 0, err
	}

	w := f.offsets[partition]
	switch marker {
	case sarama.OffsetOldest:
		return w.oldest, nil
	case sarama.OffsetNewest:
		return w.newest, nil
	default:
		return 0, fmt.Errorf("unsupported marker %d", marker)
	}
}

func (f *fakeOffsetReader) Partitions(string) ([]int32, error) {
	if f.partitionsErr != nil {
		return nil, f.partitionsErr
	}
	return append([]int32(nil), f.partitions...), nil
}

func (f *fakeOffsetReader) Close() error {
	f.closed = true
	return nil
}

type consumeCall struct {
	partition int32
	offset    int64
}

type fakeStreamOpener struct {
	consumers  map[int32]partitionStream
	consumeErr error
	calls      []consumeCall
	closed     bool
}

func (f *fakeStreamOpener) ConsumePartition(_ string, partition int32, offset int64) (partitionStream, error) {
	f.calls = append(f.calls, consumeCall{partition: partition, offset: offset})
	if f.consumeErr != nil {
		return nil, f.consumeErr
	}
	pc, ok := f.consumers[partition]
	if !ok {
		return nil, fmt.Errorf("partition %d not configured", partition)
	}
	return pc, nil
}

func (f *fakeStreamOpener) Close() error {
	f.closed = true
	return nil
}

type fakePartitionStream struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
	closed   bool
}

func (f *fakePartitionStream) Messages() <-chan *sarama.ConsumerMessage { return f.messages }
func (f *fakePartitionStream) Errors() <-chan *sarama.ConsumerError     { return f.errors }
func (f *fakePartitionStream) Close() error {
	f.closed = true
	return nil
}

// drainedConsumer отдаёт заранее подготовленные сообщения и закрытые каналы.
func drainedConsumer(messages ...*sarama.ConsumerMessage) *fakePartitionStream {
	msgCh := make(chan *sarama.ConsumerMessage, len(messages))
	errCh := make(chan *sarama.ConsumerError)
	for _, msg := range messages {
		msgCh <- msg
	}
	close(msgCh)
	close(errCh)
	return &fakePartitionStream{messages: msgCh, errors: errCh}
}

type fakeProducer struct {
	sendErr error
	calls   int
	closed  bool
	lastMsg *sarama.ProducerMessage
}

func (f *fakeProducer) SendMessage(msg *sarama.ProducerMessage) (int32, int64, error) {
	f.calls++
	f.lastMsg = msg
	if f.sendErr != nil {
		return 0, 0, f.sendErr
	}
	return 0, int64(f.calls), nil
}

func (f *fakeProducer) Close() error {
	f.closed = true
	return nil
}

package app

import (
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/inkwellstudio/bms/internal/messaging/kafka"
)

// initKafkaProducer подключает producer к брокерам из списка через запятую.
// Пустой список означает работу без Kafka: возвращается nil, nil.
func initKafkaProducer(brokers string, logger *log.Entry) (*kafka.Producer, error) {
	if strings.TrimSpace(brokers) == "" {
		return nil, nil
	}

	var brokerList []string
	for _, chunk := range strings.Split(brokers, ",") {
		if broker := strings.TrimSpace(chunk); broker != "" {
			brokerList = append(brokerList, broker)
		}
	}

	producer, err := kafka.NewProducer(brokerList)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokerList).Info("kafka producer initialized")
	return producer, nil
}

func closeKafkaProducer(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
		return
	}
	logger.Info("kafka producer closed")
}

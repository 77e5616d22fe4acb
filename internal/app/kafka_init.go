package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopsync/internal/messaging/kafka"
)

// initKafkaProducer создаёт producer по kafka.* настройкам.
// Без brokers сервис работает на внутренней шине и producer не нужен.
func initKafkaProducer(cfg Config, logger *log.Entry) (*kafka.Producer, error) {
	if len(cfg.KafkaBrokers) == 0 {
		logger.Debug("kafka brokers not set, using in-process bus")
		return nil, nil
	}

	producer, err := kafka.NewProducer(cfg.KafkaBrokers, kafka.WithClientID(cfg.KafkaClientID))
	if err != nil {
		return nil, err
	}

	logger.WithFields(log.Fields{
		"brokers":   cfg.KafkaBrokers,
		"client_id": cfg.KafkaClientID,
		"topic":     cfg.KafkaTopic,
	}).Info("kafka producer initialized")
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
